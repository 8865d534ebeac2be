// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package behave

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kelpie/internal/event"
	"github.com/ManuGH/kelpie/internal/log"
)

// Idle is the built-in quiet-time behaviour. It runs only when nothing else
// has won arbitration for the controller's idle threshold, and any real
// winner suppresses it immediately. The step callback fires once per tick
// while idle is running.
type Idle struct {
	typ      event.Type
	priority int
	callback func(ctx context.Context) error
	steps    atomic.Uint64
	logger   zerolog.Logger
}

// NewIdle builds the idle behaviour from the catalog's idle entry. The
// callback may be nil.
func NewIdle(catalog *event.Catalog, callback func(ctx context.Context) error) (*Idle, error) {
	typ, ok := catalog.IdleType()
	if !ok {
		return nil, fmt.Errorf("%w: catalog has no idle entry", ErrInvalidRegistration)
	}
	def, _ := catalog.Lookup(typ)
	return &Idle{
		typ:      typ,
		priority: def.Priority,
		callback: callback,
		logger:   log.WithComponent("idle"),
	}, nil
}

func (i *Idle) Name() string         { return "idle" }
func (i *Idle) Events() []event.Type { return []event.Type{i.typ} }
func (i *Idle) Group() string        { return event.GroupIdle }
func (i *Idle) Priority() int        { return i.priority }

func (i *Idle) Start(context.Context, any) error {
	i.logger.Info().Msg("idling")
	return nil
}

func (i *Idle) Step(ctx context.Context) error {
	i.steps.Add(1)
	if i.callback == nil {
		return nil
	}
	return i.callback(ctx)
}

func (i *Idle) Cancel(context.Context) error {
	i.logger.Debug().Uint64("steps", i.steps.Load()).Msg("idle cancelled")
	return nil
}

// Steps returns how many idle steps have run.
func (i *Idle) Steps() uint64 { return i.steps.Load() }
