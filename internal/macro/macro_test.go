// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package macro

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kelpie/internal/event"
)

func testLibrary(t *testing.T) *Library {
	t.Helper()
	return NewLibrary(event.DefaultCatalog())
}

func TestLibrary_PutGet(t *testing.T) {
	t.Parallel()
	lib := testLibrary(t)

	m := Macro{
		Name: "wiggle",
		Statements: []Statement{
			{Event: event.TypeTurnPort, Duration: 50 * time.Millisecond},
			{Event: event.TypeTurnStbd, Duration: 50 * time.Millisecond},
			{Event: event.TypeHalt},
		},
	}
	require.NoError(t, lib.Put(m))

	got, err := lib.Get("wiggle")
	require.NoError(t, err)
	assert.Len(t, got.Statements, 3)
	assert.Equal(t, []string{"wiggle"}, lib.Names())

	_, err = lib.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownMacro)
}

func TestLibrary_PutRejections(t *testing.T) {
	t.Parallel()
	lib := testLibrary(t)

	tests := []struct {
		name  string
		macro Macro
	}{
		{"empty name", Macro{Statements: []Statement{{Event: event.TypeHalt}}}},
		{"no statements", Macro{Name: "empty"}},
		{"unknown event", Macro{Name: "bad", Statements: []Statement{{Event: "warp.drive"}}}},
		{"negative duration", Macro{Name: "bad", Statements: []Statement{
			{Event: event.TypeHalt, Duration: -time.Second},
		}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := lib.Put(tt.macro)
			assert.ErrorIs(t, err, ErrInvalidMacro)
		})
	}
	assert.Equal(t, 0, lib.Len())
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "patrol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
description: short patrol loop
statements:
  - event: motion.ahead
    payload: 0.4
    duration: 250ms
  - event: motion.turn_port
    duration: 100ms
  - event: motion.halt
`), 0o600))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "patrol", m.Name, "name defaults to the file name")
	require.Len(t, m.Statements, 3)
	assert.Equal(t, event.TypeAhead, m.Statements[0].Event)
	assert.Equal(t, 250*time.Millisecond, m.Statements[0].Duration)
	assert.Equal(t, time.Duration(0), m.Statements[2].Duration)
}

func TestParseFile_BadDuration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
statements:
  - event: motion.halt
    duration: soon
`), 0o600))

	_, err := ParseFile(path)
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("a_halt.yaml", "statements:\n  - event: motion.halt\n")
	write("b_broken.yaml", "statements:\n  - event: warp.drive\n")
	write("notes.txt", "not a macro")

	lib := testLibrary(t)
	err := lib.LoadDir(dir)
	require.Error(t, err, "broken file must surface")
	assert.Equal(t, 1, lib.Len(), "good files still load")
	_, getErr := lib.Get("a_halt")
	assert.NoError(t, getErr)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Type
	fail   error
}

func (r *recordingPublisher) Publish(typ event.Type, _ any) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return uuid.Nil, r.fail
	}
	r.events = append(r.events, typ)
	return uuid.New(), nil
}

func (r *recordingPublisher) seen() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	copy(out, r.events)
	return out
}

func TestPlayer_Play(t *testing.T) {
	t.Parallel()
	lib := testLibrary(t)
	require.NoError(t, lib.Put(Macro{
		Name: "nudge",
		Statements: []Statement{
			{Event: event.TypeAhead, Payload: 0.2},
			{Event: event.TypeHalt},
		},
	}))

	pub := &recordingPublisher{}
	player := NewPlayer(lib, pub)

	require.NoError(t, player.Play(context.Background(), "nudge"))
	assert.Equal(t, []event.Type{event.TypeAhead, event.TypeHalt}, pub.seen())
}

func TestPlayer_UnknownMacro(t *testing.T) {
	t.Parallel()
	player := NewPlayer(testLibrary(t), &recordingPublisher{})
	err := player.Play(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownMacro)
}

func TestPlayer_PublishFailureStops(t *testing.T) {
	t.Parallel()
	lib := testLibrary(t)
	require.NoError(t, lib.Put(Macro{
		Name:       "nudge",
		Statements: []Statement{{Event: event.TypeAhead}, {Event: event.TypeHalt}},
	}))

	boom := errors.New("bus closed")
	player := NewPlayer(lib, &recordingPublisher{fail: boom})
	err := player.Play(context.Background(), "nudge")
	assert.ErrorIs(t, err, boom)
}

func TestPlayer_ContextCancelDuringHold(t *testing.T) {
	t.Parallel()
	lib := testLibrary(t)
	require.NoError(t, lib.Put(Macro{
		Name:       "slow",
		Statements: []Statement{{Event: event.TypeAhead, Duration: time.Minute}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	pub := &recordingPublisher{}
	player := NewPlayer(lib, pub)

	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, "slow") }()

	require.Eventually(t, func() bool { return len(pub.seen()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("player did not stop on cancel")
	}
}
