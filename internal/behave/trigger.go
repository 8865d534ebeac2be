// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package behave

import (
	"context"

	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/event"
)

// TriggerSubscriber bridges the bus to the behaviour layer: it subscribes to
// every event type a registered behaviour responds to and forwards each
// delivered message to arbitration unchanged. Winning candidates then reach
// the controller, which resolves them back to behaviours.
type TriggerSubscriber struct {
	mgr *Manager
}

// NewTriggerSubscriber builds the bridge for the manager's behaviours.
// Register it with the bus after all behaviours are registered: its interest
// set is computed per delivery snapshot from the manager's current contents.
func NewTriggerSubscriber(mgr *Manager) *TriggerSubscriber {
	return &TriggerSubscriber{mgr: mgr}
}

func (s *TriggerSubscriber) ID() string { return "behaviour-trigger" }

func (s *TriggerSubscriber) Interest() []event.Type {
	s.mgr.mu.RLock()
	defer s.mgr.mu.RUnlock()
	types := make([]event.Type, 0, len(s.mgr.byEvent))
	for _, e := range s.mgr.ordered {
		for _, t := range e.reg.Behaviour.Events() {
			if !containsType(types, t) {
				types = append(types, t)
			}
		}
	}
	return types
}

func (s *TriggerSubscriber) Consume(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
	return msg.Candidate(), nil
}

func containsType(types []event.Type, t event.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
