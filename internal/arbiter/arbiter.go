// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package arbiter selects one winning candidate per tick. Selection is a pure
// function: numerically highest priority wins, ties fall to the oldest source
// message, and remaining ties to the lowest submission sequence.
package arbiter

import "github.com/ManuGH/kelpie/internal/bus"

// Arbitrate returns the winning candidate, or false for an empty set. It has
// no side effects and is deterministic given the same candidate list.
func Arbitrate(candidates []bus.Candidate) (bus.Candidate, bool) {
	if len(candidates) == 0 {
		return bus.Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, best) {
			best = c
		}
	}
	return best, true
}

func beats(a, b bus.Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	at, bt := a.Message.CreatedAt(), b.Message.CreatedAt()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.Seq < b.Seq
}

// Selector adapts Arbitrate to the bus.Arbiter contract.
type Selector struct{}

func (Selector) Arbitrate(candidates []bus.Candidate) (bus.Candidate, bool) {
	return Arbitrate(candidates)
}
