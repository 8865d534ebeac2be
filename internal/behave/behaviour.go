// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package behave owns behaviour registration, lifecycle state, and the
// subsumption controller. A behaviour is a registered finite-state response
// to one or more event types; behaviours in the same mutual-exclusion group
// never run concurrently, and a higher-priority behaviour pre-empts a running
// lower-priority one.
package behave

import (
	"context"

	"github.com/ManuGH/kelpie/internal/event"
)

// State is a behaviour's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateSuppressed State = "suppressed"
)

type trigger string

const (
	triggerStart    trigger = "start"
	triggerSuppress trigger = "suppress"
	triggerResume   trigger = "resume"
	triggerDiscard  trigger = "discard"
	triggerComplete trigger = "complete"
	triggerFail     trigger = "fail"
)

// ResumePolicy decides what happens to a suppressed behaviour when its
// suppressor finishes. The default is discard: no implicit reactivation of
// stale behaviours.
type ResumePolicy string

const (
	ResumeDiscard ResumePolicy = "discard"
	ResumeRestart ResumePolicy = "restart"
)

// Behaviour is the contract external behaviour implementations register with
// the manager. Start is invoked with the winning candidate's payload; Cancel
// must bring an in-flight action to a safe stop promptly and honour ctx.
type Behaviour interface {
	Name() string
	Events() []event.Type
	Group() string
	Priority() int
	Start(ctx context.Context, payload any) error
	Cancel(ctx context.Context) error
}

// Stepper is implemented by behaviours that want a per-tick step while
// RUNNING. A step failure forces the behaviour to IDLE and frees its group.
type Stepper interface {
	Step(ctx context.Context) error
}

// Registration pairs a behaviour with its resumption policy.
type Registration struct {
	Behaviour Behaviour
	Resume    ResumePolicy
}

// Func is a convenience Behaviour built from closures; nil funcs are no-ops.
type Func struct {
	BehaviourName string
	EventTypes    []event.Type
	GroupName     string
	Prio          int
	OnStart       func(ctx context.Context, payload any) error
	OnStep        func(ctx context.Context) error
	OnCancel      func(ctx context.Context) error
}

func (f *Func) Name() string         { return f.BehaviourName }
func (f *Func) Events() []event.Type { return f.EventTypes }
func (f *Func) Group() string        { return f.GroupName }
func (f *Func) Priority() int        { return f.Prio }

func (f *Func) Start(ctx context.Context, payload any) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx, payload)
}

func (f *Func) Step(ctx context.Context) error {
	if f.OnStep == nil {
		return nil
	}
	return f.OnStep(ctx)
}

func (f *Func) Cancel(ctx context.Context) error {
	if f.OnCancel == nil {
		return nil
	}
	return f.OnCancel(ctx)
}
