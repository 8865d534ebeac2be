// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"

	"github.com/ManuGH/kelpie/internal/event"
)

// GCID is the reserved id of the bus-owned garbage collector subscriber.
const GCID = "gc"

// garbageCollector is a subscriber interested in every catalog type. Its
// consume never forwards a candidate; its acknowledgement is what completes a
// message's delivery accounting so the sweep can reclaim the slot.
type garbageCollector struct {
	types []event.Type
}

func newGarbageCollector(catalog *event.Catalog) *garbageCollector {
	return &garbageCollector{types: catalog.Types()}
}

func (g *garbageCollector) ID() string { return GCID }

func (g *garbageCollector) Interest() []event.Type { return g.types }

func (g *garbageCollector) Consume(context.Context, *Message) (*Candidate, error) {
	return nil, nil
}
