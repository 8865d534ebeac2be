// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"fmt"

	"github.com/ManuGH/kelpie/internal/event"
)

// Subscriber consumes messages whose event type is in its interest set.
// Consume returning a nil candidate means the subscriber observed the message
// but declined to forward it to arbitration; that still counts as an
// acknowledgement. Consume must honour ctx: the bus bounds each delivery with
// a deadline and treats overruns as non-acknowledgement for the tick.
type Subscriber interface {
	ID() string
	Interest() []event.Type
	Consume(ctx context.Context, msg *Message) (*Candidate, error)
}

// FuncSubscriber adapts a plain function into a Subscriber.
type FuncSubscriber struct {
	Name   string
	Events []event.Type
	Fn     func(ctx context.Context, msg *Message) (*Candidate, error)
}

func (s *FuncSubscriber) ID() string { return s.Name }

func (s *FuncSubscriber) Interest() []event.Type { return s.Events }

func (s *FuncSubscriber) Consume(ctx context.Context, msg *Message) (*Candidate, error) {
	if s.Fn == nil {
		return nil, nil
	}
	return s.Fn(ctx, msg)
}

// registry is the ordered set of active subscribers. Iteration follows
// registration order so candidate collection is reproducible. The registry is
// guarded by the bus mutex; it has no locking of its own.
type registry struct {
	ordered []Subscriber
	byID    map[string]Subscriber
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]Subscriber)}
}

func (r *registry) add(sub Subscriber) error {
	if sub == nil || sub.ID() == "" {
		return fmt.Errorf("subscriber requires a non-empty id")
	}
	if _, exists := r.byID[sub.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateSubscriber, sub.ID())
	}
	r.byID[sub.ID()] = sub
	r.ordered = append(r.ordered, sub)
	return nil
}

func (r *registry) remove(id string) error {
	if _, exists := r.byID[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownSubscriber, id)
	}
	delete(r.byID, id)
	out := r.ordered[:0]
	for _, s := range r.ordered {
		if s.ID() != id {
			out = append(out, s)
		}
	}
	r.ordered = out
	return nil
}

func (r *registry) interested(t event.Type) []Subscriber {
	var subs []Subscriber
	for _, s := range r.ordered {
		for _, et := range s.Interest() {
			if et == t {
				subs = append(subs, s)
				break
			}
		}
	}
	return subs
}

func (r *registry) len() int { return len(r.ordered) }
