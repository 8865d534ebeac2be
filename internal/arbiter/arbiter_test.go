// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package arbiter

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/event"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func candidate(t *testing.T, typ event.Type, priority int, created time.Time, seq int) bus.Candidate {
	t.Helper()
	msg := bus.NewMessage(
		event.Def{Type: typ, Priority: priority},
		nil, created, time.Second,
	)
	c := msg.Candidate()
	c.Seq = seq
	return *c
}

func TestArbitrate_Empty(t *testing.T) {
	t.Parallel()
	if _, ok := Arbitrate(nil); ok {
		t.Fatal("Arbitrate(nil) returned a winner")
	}
}

func TestArbitrate_HighestPriorityWins(t *testing.T) {
	t.Parallel()

	cands := []bus.Candidate{
		candidate(t, "a", 3, t0, 0),
		candidate(t, "b", 7, t0.Add(time.Millisecond), 1),
		candidate(t, "c", 7, t0.Add(2*time.Millisecond), 2),
		candidate(t, "d", 1, t0, 3),
	}

	winner, ok := Arbitrate(cands)
	if !ok {
		t.Fatal("no winner")
	}
	if winner.Priority != 7 {
		t.Fatalf("winner priority = %d, want 7", winner.Priority)
	}
	// Equal priority: the older message wins.
	if got := winner.Message.Type(); got != "b" {
		t.Fatalf("winner = %s, want b (earliest created among priority 7)", got)
	}
}

func TestArbitrate_SeqBreaksExactTies(t *testing.T) {
	t.Parallel()

	cands := []bus.Candidate{
		candidate(t, "late", 5, t0, 2),
		candidate(t, "early", 5, t0, 1),
	}

	winner, _ := Arbitrate(cands)
	if got := winner.Message.Type(); got != "early" {
		t.Fatalf("winner = %s, want early (lowest submission seq)", got)
	}
}

func TestArbitrate_Pure(t *testing.T) {
	t.Parallel()

	cands := []bus.Candidate{
		candidate(t, "a", 3, t0, 0),
		candidate(t, "b", 9, t0, 1),
		candidate(t, "c", 9, t0, 2),
	}

	first, ok1 := Arbitrate(cands)
	second, ok2 := Arbitrate(cands)
	if ok1 != ok2 {
		t.Fatal("arbitrate ok mismatch across identical calls")
	}
	if diff := cmp.Diff(first.Seq, second.Seq); diff != "" {
		t.Fatalf("winner differs across identical calls:\n%s", diff)
	}
	if first.Message.ID() != second.Message.ID() {
		t.Fatal("winner message differs across identical calls")
	}
}

func TestSelector_ImplementsBusArbiter(t *testing.T) {
	t.Parallel()
	var _ bus.Arbiter = Selector{}
}
