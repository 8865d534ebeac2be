// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/kelpie/internal/arbiter"
	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingController captures the per-tick arbitration outcome.
type recordingController struct {
	mu      sync.Mutex
	winners []bus.Candidate
	quiet   int
}

func (c *recordingController) OnWinner(_ context.Context, w bus.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.winners = append(c.winners, w)
	return nil
}

func (c *recordingController) OnQuiet(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quiet++
	return nil
}

func (c *recordingController) lastWinner(t *testing.T) bus.Candidate {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.winners)
	return c.winners[len(c.winners)-1]
}

func newTestBus(t *testing.T, clock *fakeClock, ctrl bus.Controller) *bus.Bus {
	t.Helper()
	b, err := bus.New(event.DefaultCatalog(), arbiter.Selector{}, ctrl, bus.Config{
		TickInterval:    10 * time.Millisecond,
		MaxAge:          100 * time.Millisecond,
		DeliveryTimeout: 5 * time.Millisecond,
	}, bus.WithClock(clock.Now))
	require.NoError(t, err)
	return b
}

func forwarder(name string, types ...event.Type) *bus.FuncSubscriber {
	return &bus.FuncSubscriber{
		Name:   name,
		Events: types,
		Fn: func(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
			return msg.Candidate(), nil
		},
	}
}

func TestPublish_UnknownTypeRejected(t *testing.T) {
	clock := newFakeClock()
	b := newTestBus(t, clock, nil)

	_, err := b.Publish("warp.drive", nil)
	require.ErrorIs(t, err, bus.ErrUnknownEventType)
	assert.Equal(t, uint64(1), b.Stats().Rejected)
}

func TestPublish_AfterCloseRejected(t *testing.T) {
	clock := newFakeClock()
	b := newTestBus(t, clock, nil)

	b.Close()
	_, err := b.Publish(event.TypeAhead, nil)
	require.ErrorIs(t, err, bus.ErrBusClosed)
}

func TestTick_ExactlyOnceDeliveryAndSweep(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	var mu sync.Mutex
	consumed := 0
	sub := &bus.FuncSubscriber{
		Name:   "motor",
		Events: []event.Type{event.TypeAhead},
		Fn: func(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
			mu.Lock()
			consumed++
			mu.Unlock()
			return msg.Candidate(), nil
		},
	}
	require.NoError(t, b.Register(sub))

	_, err := b.Publish(event.TypeAhead, 0.5)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	require.NoError(t, b.Tick(context.Background()))

	mu.Lock()
	assert.Equal(t, 1, consumed, "interested subscriber sees the message exactly once")
	mu.Unlock()

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Collected, "fully acknowledged message is reclaimed")
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, 2, stats.Subscribers, "motor plus the built-in collector")

	w := ctrl.lastWinner(t)
	assert.Equal(t, event.TypeAhead, w.Message.Type())
	assert.Equal(t, "motor", w.Subscriber)
	assert.Equal(t, 0.5, w.Payload)
}

func TestTick_QuietTickReachesController(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, 1, ctrl.quiet)
	assert.Empty(t, ctrl.winners)
}

func TestTick_GCNeverSubmitsCandidates(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	// No behavioural subscribers: only the collector sees the message.
	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, 1, ctrl.quiet, "collector acknowledgement is not a candidate")
	assert.Equal(t, uint64(1), b.Stats().Collected)
}

func TestTick_HighestPriorityWins(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	require.NoError(t, b.Register(forwarder("motor", event.TypeAhead, event.TypeBumperPort, event.TypeRoam)))

	_, err := b.Publish(event.TypeRoam, nil) // 300
	require.NoError(t, err)
	_, err = b.Publish(event.TypeBumperPort, nil) // 800
	require.NoError(t, err)
	_, err = b.Publish(event.TypeAhead, nil) // 500
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeBumperPort, ctrl.lastWinner(t).Message.Type())
}

func TestTick_EqualPriorityFIFO(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	require.NoError(t, b.Register(forwarder("motor", event.TypeAhead, event.TypeAstern)))

	// Same catalog priority, same fake-clock timestamp: insertion order decides.
	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)
	_, err = b.Publish(event.TypeAstern, nil)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeAhead, ctrl.lastWinner(t).Message.Type())
}

func TestTick_ExpiryBeforeDelivery(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	delivered := false
	require.NoError(t, b.Register(&bus.FuncSubscriber{
		Name:   "motor",
		Events: []event.Type{event.TypeAhead},
		Fn: func(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
			delivered = true
			return msg.Candidate(), nil
		},
	}))

	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)

	clock.Advance(150 * time.Millisecond)
	require.NoError(t, b.Tick(context.Background()))

	assert.False(t, delivered, "expired message never reaches subscribers")
	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, 0, stats.Live)
}

func TestTick_FailedDeliveryRetriedUntilAck(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, b.Register(&bus.FuncSubscriber{
		Name:   "motor",
		Events: []event.Type{event.TypeAhead},
		Fn: func(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient sensor fault")
			}
			return msg.Candidate(), nil
		},
	}))

	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.DeliveryFailures)
	assert.Equal(t, 1, stats.Live, "unacknowledged message stays live")

	clock.Advance(10 * time.Millisecond)
	require.NoError(t, b.Tick(context.Background()))
	stats = b.Stats()
	assert.Equal(t, uint64(1), stats.Collected)
	assert.Equal(t, 0, stats.Live)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}

func TestTick_TimeoutIsNonAck(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	var mu sync.Mutex
	stall := true
	require.NoError(t, b.Register(&bus.FuncSubscriber{
		Name:   "motor",
		Events: []event.Type{event.TypeAhead},
		Fn: func(ctx context.Context, msg *bus.Message) (*bus.Candidate, error) {
			mu.Lock()
			slow := stall
			mu.Unlock()
			if slow {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return msg.Candidate(), nil
		},
	}))

	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, uint64(1), b.Stats().DeliveryFailures)
	assert.Equal(t, 1, b.Stats().Live)

	mu.Lock()
	stall = false
	mu.Unlock()

	clock.Advance(10 * time.Millisecond)
	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeAhead, ctrl.lastWinner(t).Message.Type())
	assert.Equal(t, 0, b.Stats().Live)
}

func TestTick_MidTickPublishEligibleNextTick(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	require.NoError(t, b.Register(&bus.FuncSubscriber{
		Name:   "chain",
		Events: []event.Type{event.TypeBumperPort},
		Fn: func(_ context.Context, msg *bus.Message) (*bus.Candidate, error) {
			// Reaction published during delivery lands on the next tick.
			_, err := b.Publish(event.TypeAstern, nil)
			return msg.Candidate(), err
		},
	}))
	require.NoError(t, b.Register(forwarder("motor", event.TypeAstern)))

	_, err := b.Publish(event.TypeBumperPort, nil)
	require.NoError(t, err)

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeBumperPort, ctrl.lastWinner(t).Message.Type())

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeAstern, ctrl.lastWinner(t).Message.Type())
}

func TestTick_SnapshotFixedAtFirstDelivery(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	var mu sync.Mutex
	attempts := 0
	flaky := &bus.FuncSubscriber{
		Name:   "flaky",
		Events: []event.Type{event.TypeAhead},
		Fn: func(context.Context, *bus.Message) (*bus.Candidate, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return nil, errors.New("down")
		},
	}
	require.NoError(t, b.Register(flaky))

	_, err := b.Publish(event.TypeAhead, nil)
	require.NoError(t, err)

	// First delivery fixes the snapshot to {gc, flaky}.
	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, 1, b.Stats().Live)

	// Deregistering does not shrink the snapshot: the message can no longer
	// complete and is reclaimed by expiry, not by the sweep.
	require.NoError(t, b.Deregister("flaky"))
	clock.Advance(10 * time.Millisecond)
	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, 1, b.Stats().Live)

	clock.Advance(200 * time.Millisecond)
	require.NoError(t, b.Tick(context.Background()))
	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, uint64(0), stats.Collected)
	assert.Equal(t, 0, stats.Live)

	mu.Lock()
	assert.Equal(t, 1, attempts, "deregistered subscriber is no longer scheduled")
	mu.Unlock()
}

func TestTick_LateRegistrationSeesUndeliveredMessage(t *testing.T) {
	clock := newFakeClock()
	ctrl := &recordingController{}
	b := newTestBus(t, clock, ctrl)

	_, err := b.Publish(event.TypeRoam, nil)
	require.NoError(t, err)

	// Registered after publish but before the first delivery: the snapshot
	// has not been fixed yet, so the new subscriber is included.
	require.NoError(t, b.Register(forwarder("roamer", event.TypeRoam)))

	require.NoError(t, b.Tick(context.Background()))
	assert.Equal(t, event.TypeRoam, ctrl.lastWinner(t).Message.Type())
}

func TestDeregister_GCProtected(t *testing.T) {
	clock := newFakeClock()
	b := newTestBus(t, clock, nil)
	require.Error(t, b.Deregister(bus.GCID))
}

func TestRegister_DuplicateRejected(t *testing.T) {
	clock := newFakeClock()
	b := newTestBus(t, clock, nil)
	require.NoError(t, b.Register(forwarder("motor", event.TypeAhead)))
	err := b.Register(forwarder("motor", event.TypeHalt))
	require.ErrorIs(t, err, bus.ErrDuplicateSubscriber)
	assert.Equal(t, 2, b.Stats().Subscribers, "rejected registration leaves the registry untouched")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	clock := newFakeClock()
	b := newTestBus(t, clock, &recordingController{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bus did not stop on cancel")
	}

	_, err := b.Publish(event.TypeAhead, nil)
	require.ErrorIs(t, err, bus.ErrBusClosed)
}
