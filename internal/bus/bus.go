// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus implements the priority-arbitrated publish/subscribe core.
//
// The bus guarantees exactly-once acknowledged delivery of every live message
// to every subscriber interested in it at delivery time, bounds message
// lifetime, and drives one arbitration cycle per tick:
//
//	expire -> deliver -> collect candidates -> arbitrate -> control -> sweep
//
// Publishers enqueue concurrently and never block on tick processing; a
// message published mid-tick becomes eligible for delivery on the next tick.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/kelpie/internal/event"
	"github.com/ManuGH/kelpie/internal/log"
	"github.com/ManuGH/kelpie/internal/metrics"
)

// Arbiter selects the single winning candidate of a tick. Implementations
// must be pure: same candidates in, same winner out.
type Arbiter interface {
	Arbitrate(candidates []Candidate) (Candidate, bool)
}

// Controller receives the arbitration outcome, exactly once per tick: either
// the winning candidate or notice that the tick was quiet. Controller errors
// are isolated to the tick and never abort the bus.
type Controller interface {
	OnWinner(ctx context.Context, winner Candidate) error
	OnQuiet(ctx context.Context) error
}

// Config captures the tunable bus parameters.
type Config struct {
	TickInterval    time.Duration // cadence of Run's tick loop
	MaxAge          time.Duration // message lifetime from creation
	DeliveryTimeout time.Duration // per-delivery wait bound
}

// Defaults applied by New for zero fields.
const (
	DefaultTickInterval    = 50 * time.Millisecond
	DefaultMaxAge          = 100 * time.Millisecond
	DefaultDeliveryTimeout = 25 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return c
}

// Stats is a snapshot of the bus's observable counters.
type Stats struct {
	Published        uint64
	Rejected         uint64
	Expired          uint64
	Delivered        uint64
	DeliveryFailures uint64
	Collected        uint64
	Ticks            uint64
	Live             int
	Pending          int
	Subscribers      int
}

// slot tracks one live message's delivery accounting. The snapshot of
// interested subscriber ids is fixed the first time the delivery phase sees
// the message and is never re-evaluated on registry changes.
type slot struct {
	msg      *Message
	snapshot map[string]struct{}
	acked    map[string]struct{}
}

func (s *slot) fullyAcked() bool {
	if s.snapshot == nil {
		return false
	}
	for id := range s.snapshot {
		if _, ok := s.acked[id]; !ok {
			return false
		}
	}
	return true
}

// Bus is the single-process, in-memory message bus at the centre of the
// decision core. Construct with New; drive with Run or Tick.
type Bus struct {
	catalog *event.Catalog
	cfg     Config
	arb     Arbiter
	ctrl    Controller
	logger  zerolog.Logger
	now     func() time.Time

	pendMu  sync.Mutex
	pending []*Message
	closed  bool

	mu   sync.Mutex
	live []*slot
	reg  *registry

	published        atomic.Uint64
	rejected         atomic.Uint64
	expired          atomic.Uint64
	delivered        atomic.Uint64
	deliveryFailures atomic.Uint64
	collected        atomic.Uint64
	ticks            atomic.Uint64
}

// Option tweaks bus construction.
type Option func(*Bus)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithLogger substitutes the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New builds a bus over the given catalog. The garbage collector subscriber
// is registered automatically. arb must not be nil; ctrl may be nil, in which
// case winners are logged and dropped.
func New(catalog *event.Catalog, arb Arbiter, ctrl Controller, cfg Config, opts ...Option) (*Bus, error) {
	if catalog == nil {
		return nil, fmt.Errorf("bus requires a catalog")
	}
	if arb == nil {
		return nil, fmt.Errorf("bus requires an arbiter")
	}
	b := &Bus{
		catalog: catalog,
		cfg:     cfg.withDefaults(),
		arb:     arb,
		ctrl:    ctrl,
		logger:  log.WithComponent("bus"),
		now:     time.Now,
		reg:     newRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.reg.add(newGarbageCollector(catalog)); err != nil {
		return nil, err
	}
	return b, nil
}

// Register adds a subscriber. Registration takes effect for messages whose
// delivery snapshot has not yet been fixed; in-flight messages keep the
// subscriber set they were delivered against.
func (b *Bus) Register(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg.add(sub)
}

// Deregister removes a subscriber by id. Messages already snapshotted against
// it stay live until acknowledged by the remaining parties or expired.
func (b *Bus) Deregister(id string) error {
	if id == GCID {
		return fmt.Errorf("%w: %q is bus-owned", ErrUnknownSubscriber, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg.remove(id)
}

// Publish creates a message for the event type and enqueues it. Safe for
// concurrent callers; never blocks on tick processing. Insertion order is
// preserved, giving the FIFO tie-break for equal priorities.
func (b *Bus) Publish(typ event.Type, payload any) (uuid.UUID, error) {
	def, ok := b.catalog.Lookup(typ)
	if !ok {
		b.rejected.Add(1)
		metrics.IncRejected("unknown_event_type")
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typ)
	}
	msg := NewMessage(def, payload, b.now(), b.cfg.MaxAge)

	b.pendMu.Lock()
	if b.closed {
		b.pendMu.Unlock()
		b.rejected.Add(1)
		metrics.IncRejected("closed")
		return uuid.Nil, ErrBusClosed
	}
	b.pending = append(b.pending, msg)
	b.pendMu.Unlock()

	b.published.Add(1)
	metrics.IncPublished(string(typ))
	return msg.ID(), nil
}

// Run drives Tick on the configured cadence until ctx is cancelled or a tick
// reports a fatal invariant violation.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info().
		Dur("tick_interval", b.cfg.TickInterval).
		Dur("max_age", b.cfg.MaxAge).
		Msg("bus running")
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return ctx.Err()
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				b.logger.Error().Err(err).Msg("fatal tick failure, halting bus")
				b.Close()
				return err
			}
		}
	}
}

// Close rejects further publications. Idempotent.
func (b *Bus) Close() {
	b.pendMu.Lock()
	b.closed = true
	b.pendMu.Unlock()
}

// Tick runs one full bus cycle. Phases are strictly ordered and never overlap
// with the next tick. The only error returned is a fatal invariant violation
// (ErrAckCorruption); all subscriber and behaviour failures are isolated,
// counted, and logged.
func (b *Bus) Tick(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.admitLocked()
	b.expireLocked(now)

	candidates, err := b.deliverLocked(ctx)
	if err != nil {
		return err
	}

	if winner, ok := b.arb.Arbitrate(candidates); ok {
		metrics.IncArbitrationWin(string(winner.Message.Type()))
		b.logger.Debug().
			Str(log.FieldEvent, string(winner.Message.Type())).
			Int(log.FieldPriority, winner.Priority).
			Str(log.FieldSubscriber, winner.Subscriber).
			Msg("arbitration winner")
		if b.ctrl != nil {
			if cerr := b.ctrl.OnWinner(ctx, winner); cerr != nil {
				b.logger.Warn().Err(cerr).
					Str(log.FieldEvent, string(winner.Message.Type())).
					Msg("controller rejected winner")
			}
		}
	} else if b.ctrl != nil {
		if cerr := b.ctrl.OnQuiet(ctx); cerr != nil {
			b.logger.Warn().Err(cerr).Msg("controller quiet-tick failure")
		}
	}

	b.sweepLocked()

	b.ticks.Add(1)
	metrics.IncTick()
	return nil
}

// admitLocked moves messages published since the previous tick into the live
// set, preserving publish order.
func (b *Bus) admitLocked() {
	b.pendMu.Lock()
	admitted := b.pending
	b.pending = nil
	b.pendMu.Unlock()

	for _, msg := range admitted {
		b.live = append(b.live, &slot{
			msg:   msg,
			acked: make(map[string]struct{}),
		})
	}
}

// expireLocked drops messages past their lifetime. Expiry before full
// acknowledgement is degraded delivery: counted, logged, never fatal.
func (b *Bus) expireLocked(now time.Time) {
	kept := b.live[:0]
	for _, s := range b.live {
		if !s.msg.ExpiredAt(now) {
			kept = append(kept, s)
			continue
		}
		b.expired.Add(1)
		metrics.IncExpired(string(s.msg.Type()))
		b.logger.Debug().
			Str(log.FieldMessageID, s.msg.ID().String()).
			Str(log.FieldEvent, string(s.msg.Type())).
			Int64(log.FieldAgeMS, s.msg.Age(now).Milliseconds()).
			Msg("message expired before full acknowledgement")
	}
	b.live = kept
}

type deliveryResult struct {
	cand *Candidate
	err  error
}

// deliverLocked invokes each interested subscriber exactly once per message,
// in parallel across subscribers, then merges candidates in the stable
// (registration order, insertion order) sequence. Arbitration input is only
// assembled after every scheduled delivery has completed or timed out.
func (b *Bus) deliverLocked(ctx context.Context) ([]Candidate, error) {
	// Fix each new message's eligibility snapshot.
	for _, s := range b.live {
		if s.snapshot != nil {
			continue
		}
		s.snapshot = make(map[string]struct{})
		for _, sub := range b.reg.interested(s.msg.Type()) {
			s.snapshot[sub.ID()] = struct{}{}
		}
	}

	// Build per-subscriber worklists in stable order.
	type work struct {
		sub   Subscriber
		slots []*slot
	}
	var plan []work
	for _, sub := range b.reg.ordered {
		var slots []*slot
		for _, s := range b.live {
			if _, want := s.snapshot[sub.ID()]; !want {
				continue
			}
			if _, done := s.acked[sub.ID()]; done {
				continue
			}
			slots = append(slots, s)
		}
		if len(slots) > 0 {
			plan = append(plan, work{sub: sub, slots: slots})
		}
	}

	// Deliver: parallel across subscribers, sequential per subscriber.
	results := make([][]deliveryResult, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	for i := range plan {
		i := i
		w := plan[i]
		g.Go(func() error {
			res := make([]deliveryResult, len(w.slots))
			for j, s := range w.slots {
				cand, err := b.deliverOne(gctx, w.sub, s.msg)
				res[j] = deliveryResult{cand: cand, err: err}
			}
			results[i] = res
			return nil
		})
	}
	// Workers never return errors; Wait is a pure barrier.
	_ = g.Wait()

	// Merge in stable order and update acknowledgement state.
	var candidates []Candidate
	seq := 0
	for i, w := range plan {
		for j, s := range w.slots {
			r := results[i][j]
			if r.err != nil {
				b.deliveryFailures.Add(1)
				reason := "handler_error"
				if isTimeout(r.err) {
					reason = "timeout"
				}
				metrics.IncDeliveryFailure(w.sub.ID(), reason)
				b.logger.Warn().Err(r.err).
					Str(log.FieldSubscriber, w.sub.ID()).
					Str(log.FieldMessageID, s.msg.ID().String()).
					Msg("delivery failure, treated as non-ack")
				continue
			}
			if err := b.ackLocked(s, w.sub.ID()); err != nil {
				return nil, err
			}
			if r.cand != nil && w.sub.ID() != GCID {
				c := *r.cand
				c.Subscriber = w.sub.ID()
				c.Seq = seq
				seq++
				candidates = append(candidates, c)
			}
		}
	}
	return candidates, nil
}

// deliverOne bounds a single handler invocation with the per-delivery
// timeout. A handler that ignores its context keeps running detached; the bus
// stops waiting.
func (b *Bus) deliverOne(ctx context.Context, sub Subscriber, msg *Message) (*Candidate, error) {
	dctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
	defer cancel()

	done := make(chan deliveryResult, 1)
	go func() {
		cand, err := sub.Consume(dctx, msg)
		done <- deliveryResult{cand: cand, err: err}
	}()

	select {
	case r := <-done:
		return r.cand, r.err
	case <-dctx.Done():
		return nil, fmt.Errorf("%w: subscriber %q, message %s", ErrDeliveryTimeout, sub.ID(), msg.ID())
	}
}

// ackLocked records a successful delivery. Double acknowledgement or an ack
// outside the snapshot means the exactly-once bookkeeping is corrupt, which
// must never happen under correct use and is fatal.
func (b *Bus) ackLocked(s *slot, subID string) error {
	if _, ok := s.snapshot[subID]; !ok {
		return fmt.Errorf("%w: %q not in snapshot of message %s", ErrAckCorruption, subID, s.msg.ID())
	}
	if _, dup := s.acked[subID]; dup {
		return fmt.Errorf("%w: duplicate ack by %q for message %s", ErrAckCorruption, subID, s.msg.ID())
	}
	s.acked[subID] = struct{}{}
	b.delivered.Add(1)
	metrics.IncAcknowledged(subID)
	return nil
}

// sweepLocked reclaims every fully-acknowledged message slot.
func (b *Bus) sweepLocked() {
	kept := b.live[:0]
	for _, s := range b.live {
		if s.fullyAcked() {
			b.collected.Add(1)
			metrics.IncCollected()
			continue
		}
		kept = append(kept, s)
	}
	b.live = kept
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	live := len(b.live)
	subscribers := b.reg.len()
	b.mu.Unlock()
	b.pendMu.Lock()
	pending := len(b.pending)
	b.pendMu.Unlock()
	return Stats{
		Published:        b.published.Load(),
		Rejected:         b.rejected.Load(),
		Expired:          b.expired.Load(),
		Delivered:        b.delivered.Load(),
		DeliveryFailures: b.deliveryFailures.Load(),
		Collected:        b.collected.Load(),
		Ticks:            b.ticks.Load(),
		Live:             live,
		Pending:          pending,
		Subscribers:      subscribers,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrDeliveryTimeout) || errors.Is(err, context.DeadlineExceeded)
}
