// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package macro implements scripted event sequences. A macro is an ordered
// list of (event type, payload, duration) statements; the player's only
// interaction with the core is timed Publish calls. Macros come from an
// explicit registry fed by YAML definitions; the core never inspects or
// executes external code.
package macro

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/kelpie/internal/event"
)

var (
	// ErrUnknownMacro is returned when playing a name that is not registered.
	ErrUnknownMacro = errors.New("unknown macro")

	// ErrInvalidMacro wraps macro validation failures.
	ErrInvalidMacro = errors.New("invalid macro")
)

// Statement is one step of a macro: publish the event, then hold for the
// duration before the next statement.
type Statement struct {
	Event    event.Type
	Payload  any
	Duration time.Duration
}

// Macro is a named, immutable sequence of statements.
type Macro struct {
	Name        string
	Description string
	Statements  []Statement
}

func (m Macro) validate(catalog *event.Catalog) error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMacro)
	}
	if len(m.Statements) == 0 {
		return fmt.Errorf("%w: %q has no statements", ErrInvalidMacro, m.Name)
	}
	for i, s := range m.Statements {
		if !catalog.Contains(s.Event) {
			return fmt.Errorf("%w: %q statement %d references unknown event %q",
				ErrInvalidMacro, m.Name, i, s.Event)
		}
		if s.Duration < 0 {
			return fmt.Errorf("%w: %q statement %d has negative duration", ErrInvalidMacro, m.Name, i)
		}
	}
	return nil
}

// Library is the explicit macro registry. All macros are validated against
// the catalog before admission.
type Library struct {
	catalog *event.Catalog

	mu     sync.RWMutex
	macros map[string]Macro
}

// NewLibrary builds an empty library bound to the catalog.
func NewLibrary(catalog *event.Catalog) *Library {
	return &Library{
		catalog: catalog,
		macros:  make(map[string]Macro),
	}
}

// Put validates and stores a macro, replacing any previous definition of the
// same name.
func (l *Library) Put(m Macro) error {
	if err := m.validate(l.catalog); err != nil {
		return err
	}
	l.mu.Lock()
	l.macros[m.Name] = m
	l.mu.Unlock()
	return nil
}

// Get returns a macro by name.
func (l *Library) Get(name string) (Macro, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.macros[name]
	if !ok {
		return Macro{}, fmt.Errorf("%w: %q", ErrUnknownMacro, name)
	}
	return m, nil
}

// Names returns the registered macro names in lexical order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.macros))
	for n := range l.macros {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered macros.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.macros)
}
