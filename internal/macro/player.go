// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package macro

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/kelpie/internal/event"
	kellog "github.com/ManuGH/kelpie/internal/log"
)

// Publisher is the narrow slice of the bus the player needs.
type Publisher interface {
	Publish(typ event.Type, payload any) (uuid.UUID, error)
}

// Player replays macros onto the bus. It holds no reference to subscribers
// or behaviours; a running macro is just a timed sequence of Publish calls.
type Player struct {
	lib    *Library
	pub    Publisher
	logger zerolog.Logger
}

// NewPlayer builds a player over the library and the publisher.
func NewPlayer(lib *Library, pub Publisher) *Player {
	return &Player{
		lib:    lib,
		pub:    pub,
		logger: kellog.WithComponent("macro"),
	}
}

// Play looks up the named macro and replays it. Each statement publishes its
// event and then holds for the statement duration. Play blocks until the
// macro finishes, a Publish fails, or the context is cancelled.
func (p *Player) Play(ctx context.Context, name string) error {
	m, err := p.lib.Get(name)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str(kellog.FieldMacro, m.Name).
		Int("statements", len(m.Statements)).
		Msg("macro started")

	for i, s := range m.Statements {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("macro %q interrupted at statement %d: %w", m.Name, i, err)
		}
		id, err := p.pub.Publish(s.Event, s.Payload)
		if err != nil {
			p.logger.Error().
				Err(err).
				Str(kellog.FieldMacro, m.Name).
				Str(kellog.FieldEvent, string(s.Event)).
				Msg("macro statement rejected")
			return fmt.Errorf("macro %q statement %d: %w", m.Name, i, err)
		}
		p.logger.Debug().
			Str(kellog.FieldMacro, m.Name).
			Str(kellog.FieldMessageID, id.String()).
			Str(kellog.FieldEvent, string(s.Event)).
			Dur("hold", s.Duration).
			Msg("macro statement published")

		if s.Duration > 0 {
			if err := hold(ctx, s.Duration); err != nil {
				return fmt.Errorf("macro %q interrupted at statement %d: %w", m.Name, i, err)
			}
		}
	}

	p.logger.Info().Str(kellog.FieldMacro, m.Name).Msg("macro finished")
	return nil
}

func hold(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
