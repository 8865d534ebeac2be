// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package behave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/log"
	"github.com/ManuGH/kelpie/internal/metrics"
)

// Config captures the controller's tunables.
type Config struct {
	// IdleThreshold is the number of consecutive winner-less ticks before
	// the idle behaviour starts.
	IdleThreshold int

	// CancelWait bounds how long a suppression waits for the suppressed
	// behaviour's Cancel before proceeding with a stuck warning.
	CancelWait time.Duration
}

const (
	DefaultIdleThreshold = 3
	DefaultCancelWait    = 100 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.CancelWait <= 0 {
		c.CancelWait = DefaultCancelWait
	}
	return c
}

// Controller applies subsumption: it resolves each tick's winning candidate
// to registered behaviours, enforcing at most one RUNNING behaviour per
// mutual-exclusion group. It satisfies the bus.Controller contract and owns
// all behaviour group state; behaviours mutate only their own internals via
// the transitions the controller invokes.
type Controller struct {
	mgr    *Manager
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	quietTicks int
	// victims maps a running behaviour name to the entry it suppressed,
	// consulted when the suppressor completes.
	victims map[string]*entry
}

// NewController builds a controller over the manager.
func NewController(mgr *Manager, cfg Config) *Controller {
	return &Controller{
		mgr:     mgr,
		cfg:     cfg.withDefaults(),
		logger:  log.WithComponent("controller"),
		victims: make(map[string]*entry),
	}
}

// OnWinner handles the tick's winning candidate: any running idle behaviour
// is cancelled first, then each behaviour resolved from the winner's event
// type is started under the group discipline. Behaviour failures are
// reported upward but never abort the caller's tick.
func (c *Controller) OnWinner(ctx context.Context, winner bus.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quietTicks = 0

	// Idle is suppressed immediately by any other winning candidate.
	if idle := c.mgr.idleEntry(); idle != nil && idle.state() == StateRunning {
		c.stopLocked(ctx, idle, triggerSuppress)
		if _, err := idle.machine.Fire(ctx, triggerDiscard); err != nil {
			c.logger.Warn().Err(err).Msg("idle discard transition failed")
		}
	}

	var firstErr error
	for _, e := range c.mgr.forEvent(winner.Message.Type()) {
		if err := c.triggerLocked(ctx, e, winner.Payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.stepLocked(ctx)
	return firstErr
}

// OnQuiet handles a winner-less tick: it advances the idle counter, starting
// the idle behaviour once the threshold is reached, then steps running
// behaviours.
func (c *Controller) OnQuiet(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quietTicks++
	var err error
	if idle := c.mgr.idleEntry(); idle != nil &&
		idle.state() == StateIdle &&
		c.quietTicks >= c.cfg.IdleThreshold {
		err = c.startLocked(ctx, idle, nil)
		if err == nil {
			metrics.IncIdleActivation()
			c.logger.Info().
				Int(log.FieldTick, c.quietTicks).
				Msg("idle behaviour activated")
		}
	}

	c.stepLocked(ctx)
	return err
}

// Complete reports that a running behaviour finished on its own. The group is
// freed; if the behaviour was suppressing another, that victim's resumption
// policy decides between restart and discard.
func (c *Controller) Complete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.mgr.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBehaviour, name)
	}
	if e.state() != StateRunning {
		return fmt.Errorf("behaviour %q is %s, not running", name, e.state())
	}
	if _, err := e.machine.Fire(ctx, triggerComplete); err != nil {
		return err
	}
	c.logger.Info().Str(log.FieldBehaviour, name).Msg("behaviour completed")
	return c.settleVictimLocked(ctx, e)
}

// QuietTicks returns the current count of consecutive winner-less ticks.
func (c *Controller) QuietTicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quietTicks
}

// triggerLocked runs the subsumption decision for one resolved behaviour.
func (c *Controller) triggerLocked(ctx context.Context, e *entry, payload any) error {
	name := e.reg.Behaviour.Name()
	group := e.reg.Behaviour.Group()

	if e.state() == StateRunning {
		// Already running; the winner re-affirms it.
		return nil
	}

	if r := c.mgr.runningInGroup(group); r != nil {
		if r.reg.Behaviour.Priority() >= e.reg.Behaviour.Priority() {
			metrics.IncBehaviourSuppressed(name, metrics.SuppressedAtEntry)
			c.logger.Debug().
				Str(log.FieldBehaviour, name).
				Str(log.FieldGroup, group).
				Str("running", r.reg.Behaviour.Name()).
				Msg("behaviour suppressed at entry")
			return nil
		}
		// Pre-empt the running behaviour before starting the new one.
		c.stopLocked(ctx, r, triggerSuppress)
		metrics.IncBehaviourSuppressed(r.reg.Behaviour.Name(), metrics.SuppressedPreempt)
		c.victims[name] = r
	}

	if e.state() == StateSuppressed {
		// A suppressed behaviour re-selected by arbitration restarts.
		if _, err := e.machine.Fire(ctx, triggerResume); err != nil {
			return err
		}
		return c.invokeStartLocked(ctx, e, payload)
	}
	return c.startLocked(ctx, e, payload)
}

// startLocked transitions IDLE -> RUNNING and invokes the start action.
func (c *Controller) startLocked(ctx context.Context, e *entry, payload any) error {
	if _, err := e.machine.Fire(ctx, triggerStart); err != nil {
		return err
	}
	return c.invokeStartLocked(ctx, e, payload)
}

func (c *Controller) invokeStartLocked(ctx context.Context, e *entry, payload any) error {
	name := e.reg.Behaviour.Name()
	e.lastPayload = payload
	if err := e.reg.Behaviour.Start(ctx, payload); err != nil {
		metrics.IncBehaviourFailure(name, "start")
		if _, ferr := e.machine.Fire(ctx, triggerFail); ferr != nil {
			c.logger.Error().Err(ferr).Str(log.FieldBehaviour, name).Msg("fail transition rejected")
		}
		c.discardGroupLocked(ctx, e.reg.Behaviour.Group())
		return fmt.Errorf("behaviour %q start: %w", name, err)
	}
	metrics.IncBehaviourStart(name)
	c.logger.Info().
		Str(log.FieldBehaviour, name).
		Str(log.FieldGroup, e.reg.Behaviour.Group()).
		Str(log.FieldNewState, string(StateRunning)).
		Msg("behaviour started")
	return nil
}

// stopLocked fires the given exit trigger and asks the behaviour to cancel,
// waiting at most CancelWait. A stuck cancel is logged and counted; the
// controller proceeds regardless.
func (c *Controller) stopLocked(ctx context.Context, e *entry, t trigger) {
	name := e.reg.Behaviour.Name()
	if _, err := e.machine.Fire(ctx, t); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldBehaviour, name).Msg("stop transition rejected")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CancelWait)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.reg.Behaviour.Cancel(cctx) }()
	select {
	case err := <-done:
		if err != nil {
			metrics.IncBehaviourFailure(name, "cancel")
			c.logger.Warn().Err(err).Str(log.FieldBehaviour, name).Msg("behaviour cancel failed")
		}
	case <-cctx.Done():
		metrics.IncStuckBehaviour(name)
		c.logger.Warn().
			Str(log.FieldBehaviour, name).
			Dur("waited", c.cfg.CancelWait).
			Msg("stuck behaviour: cancellation wait exceeded, proceeding")
	}
}

// settleVictimLocked applies the resumption policy of the entry the finished
// suppressor was holding down.
func (c *Controller) settleVictimLocked(ctx context.Context, suppressor *entry) error {
	name := suppressor.reg.Behaviour.Name()
	victim, ok := c.victims[name]
	if !ok {
		return nil
	}
	delete(c.victims, name)
	if victim.state() != StateSuppressed {
		return nil
	}
	if victim.reg.Resume == ResumeRestart {
		if _, err := victim.machine.Fire(ctx, triggerResume); err != nil {
			return err
		}
		c.logger.Info().
			Str(log.FieldBehaviour, victim.reg.Behaviour.Name()).
			Msg("suppressed behaviour restarted")
		return c.invokeStartLocked(ctx, victim, victim.lastPayload)
	}
	if _, err := victim.machine.Fire(ctx, triggerDiscard); err != nil {
		return err
	}
	c.logger.Debug().
		Str(log.FieldBehaviour, victim.reg.Behaviour.Name()).
		Msg("suppressed behaviour discarded")
	// A discarded victim may itself be suppressing an earlier behaviour in
	// the chain; settle that one under its own policy so nothing stays
	// suppressed in a group with no runner.
	return c.settleVictimLocked(ctx, victim)
}

// discardGroupLocked frees a group after a failure: every suppressed entry
// returns to IDLE without resumption.
func (c *Controller) discardGroupLocked(ctx context.Context, group string) {
	for _, s := range c.mgr.suppressedInGroup(group) {
		if _, err := s.machine.Fire(ctx, triggerDiscard); err != nil {
			c.logger.Warn().Err(err).
				Str(log.FieldBehaviour, s.reg.Behaviour.Name()).
				Msg("discard transition rejected")
		}
	}
	for name, victim := range c.victims {
		if victim.reg.Behaviour.Group() == group {
			delete(c.victims, name)
		}
	}
}

// stepLocked advances every running behaviour that implements Stepper. A step
// failure forces the behaviour to IDLE and frees its group.
func (c *Controller) stepLocked(ctx context.Context) {
	for _, e := range c.mgr.running() {
		stepper, ok := e.reg.Behaviour.(Stepper)
		if !ok {
			continue
		}
		if err := stepper.Step(ctx); err != nil {
			name := e.reg.Behaviour.Name()
			metrics.IncBehaviourFailure(name, "step")
			c.logger.Warn().Err(err).Str(log.FieldBehaviour, name).Msg("behaviour step failed, forcing idle")
			if _, ferr := e.machine.Fire(ctx, triggerFail); ferr != nil {
				c.logger.Error().Err(ferr).Str(log.FieldBehaviour, name).Msg("fail transition rejected")
			}
			delete(c.victims, name)
			c.discardGroupLocked(ctx, e.reg.Behaviour.Group())
		}
	}
}

var _ bus.Controller = (*Controller)(nil)
