// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package behave

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kelpie/internal/event"
	"github.com/ManuGH/kelpie/internal/fsm"
	"github.com/ManuGH/kelpie/internal/log"
)

var (
	// ErrDuplicateBehaviour is returned when a behaviour name is already registered.
	ErrDuplicateBehaviour = errors.New("behaviour already registered")

	// ErrUnknownBehaviour is returned for lookups of unregistered names.
	ErrUnknownBehaviour = errors.New("behaviour not registered")

	// ErrInvalidRegistration is returned for malformed registrations.
	ErrInvalidRegistration = errors.New("invalid behaviour registration")
)

// entry holds one registered behaviour with its lifecycle machine.
type entry struct {
	reg         Registration
	machine     *fsm.Machine[State, trigger]
	lastPayload any
}

func (e *entry) state() State { return e.machine.State() }

func newEntry(reg Registration) (*entry, error) {
	m, err := fsm.New(StateIdle, []fsm.Transition[State, trigger]{
		{From: StateIdle, Event: triggerStart, To: StateRunning},
		{From: StateRunning, Event: triggerSuppress, To: StateSuppressed},
		{From: StateRunning, Event: triggerComplete, To: StateIdle},
		{From: StateRunning, Event: triggerFail, To: StateIdle},
		{From: StateSuppressed, Event: triggerResume, To: StateRunning},
		{From: StateSuppressed, Event: triggerDiscard, To: StateIdle},
	})
	if err != nil {
		return nil, err
	}
	return &entry{reg: reg, machine: m}, nil
}

// Manager owns the registered behaviours. Behaviours are process-wide
// singletons by name, registered before the bus starts.
type Manager struct {
	mu      sync.RWMutex
	byName  map[string]*entry
	byEvent map[event.Type][]*entry
	ordered []*entry // registration order, for reproducible iteration
	logger  zerolog.Logger
}

// NewManager builds an empty behaviour manager.
func NewManager() *Manager {
	return &Manager{
		byName:  make(map[string]*entry),
		byEvent: make(map[event.Type][]*entry),
		logger:  log.WithComponent("behave"),
	}
}

// Register adds a behaviour. An empty resume policy defaults to discard.
func (m *Manager) Register(reg Registration) error {
	b := reg.Behaviour
	if b == nil || b.Name() == "" {
		return fmt.Errorf("%w: behaviour with a non-empty name required", ErrInvalidRegistration)
	}
	if len(b.Events()) == 0 {
		return fmt.Errorf("%w: behaviour %q filters no event types", ErrInvalidRegistration, b.Name())
	}
	if b.Group() == "" {
		return fmt.Errorf("%w: behaviour %q has no group", ErrInvalidRegistration, b.Name())
	}
	switch reg.Resume {
	case "":
		reg.Resume = ResumeDiscard
	case ResumeDiscard, ResumeRestart:
	default:
		return fmt.Errorf("%w: behaviour %q has unknown resume policy %q", ErrInvalidRegistration, b.Name(), reg.Resume)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[b.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBehaviour, b.Name())
	}
	e, err := newEntry(reg)
	if err != nil {
		return err
	}
	m.byName[b.Name()] = e
	m.ordered = append(m.ordered, e)
	for _, t := range b.Events() {
		m.byEvent[t] = append(m.byEvent[t], e)
	}
	m.logger.Info().
		Str(log.FieldBehaviour, b.Name()).
		Str(log.FieldGroup, b.Group()).
		Int(log.FieldPriority, b.Priority()).
		Msg("behaviour registered")
	return nil
}

// StateOf returns the lifecycle state of a behaviour by name.
func (m *Manager) StateOf(name string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBehaviour, name)
	}
	return e.state(), nil
}

// Names returns the registered behaviour names, unordered.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.byName))
	for n := range m.byName {
		names = append(names, n)
	}
	return names
}

func (m *Manager) forEvent(t event.Type) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, len(m.byEvent[t]))
	copy(out, m.byEvent[t])
	return out
}

func (m *Manager) lookup(name string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byName[name]
	return e, ok
}

// runningInGroup returns the currently running entry of the group, if any.
func (m *Manager) runningInGroup(group string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.ordered {
		if e.reg.Behaviour.Group() == group && e.state() == StateRunning {
			return e
		}
	}
	return nil
}

// running returns every entry currently in StateRunning.
func (m *Manager) running() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entry
	for _, e := range m.ordered {
		if e.state() == StateRunning {
			out = append(out, e)
		}
	}
	return out
}

// suppressedInGroup returns every suppressed entry of the group.
func (m *Manager) suppressedInGroup(group string) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entry
	for _, e := range m.ordered {
		if e.reg.Behaviour.Group() == group && e.state() == StateSuppressed {
			out = append(out, e)
		}
	}
	return out
}

// idleEntry returns the registered idle-group behaviour, if any.
func (m *Manager) idleEntry() *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.ordered {
		if e.reg.Behaviour.Group() == event.GroupIdle {
			return e
		}
	}
	return nil
}
