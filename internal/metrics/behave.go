// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	arbitrationWinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_arbitration_wins_total",
		Help: "Total number of arbitration winners, by event type",
	}, []string{"event"})

	behaviourStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_behaviour_starts_total",
		Help: "Total number of behaviour starts, by behaviour",
	}, []string{"behaviour"})

	behaviourSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_behaviour_suppressed_total",
		Help: "Total number of behaviour suppressions, by behaviour and kind (at_entry or preempted)",
	}, []string{"behaviour", "kind"})

	behaviourFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_behaviour_failures_total",
		Help: "Total number of behaviour action failures, by behaviour and phase (start or step)",
	}, []string{"behaviour", "phase"})

	stuckBehaviourTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_behaviour_stuck_total",
		Help: "Total number of suppression waits that exceeded the cancellation bound, by behaviour",
	}, []string{"behaviour"})

	idleActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kelpie_idle_activations_total",
		Help: "Total number of idle behaviour activations",
	})
)

// Suppression kinds.
const (
	SuppressedAtEntry = "at_entry"
	SuppressedPreempt = "preempted"
)

// IncArbitrationWin records one winning candidate.
func IncArbitrationWin(event string) {
	arbitrationWinsTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

// IncBehaviourStart records a behaviour entering RUNNING.
func IncBehaviourStart(behaviour string) {
	behaviourStartsTotal.WithLabelValues(normalizeLabel(behaviour)).Inc()
}

// IncBehaviourSuppressed records a suppression, either of an incoming
// candidate at entry or of a running behaviour being pre-empted.
func IncBehaviourSuppressed(behaviour, kind string) {
	behaviourSuppressedTotal.WithLabelValues(normalizeLabel(behaviour), normalizeSuppressKind(kind)).Inc()
}

// IncBehaviourFailure records a start or step action failure.
func IncBehaviourFailure(behaviour, phase string) {
	behaviourFailuresTotal.WithLabelValues(normalizeLabel(behaviour), normalizePhase(phase)).Inc()
}

// IncStuckBehaviour records a cancellation wait that timed out.
func IncStuckBehaviour(behaviour string) {
	stuckBehaviourTotal.WithLabelValues(normalizeLabel(behaviour)).Inc()
}

// IncIdleActivation records the idle behaviour winning a quiet cycle.
func IncIdleActivation() {
	idleActivationsTotal.Inc()
}

func normalizeSuppressKind(kind string) string {
	switch kind {
	case SuppressedAtEntry, SuppressedPreempt:
		return kind
	default:
		return "unknown"
	}
}

func normalizePhase(phase string) string {
	switch phase {
	case "start", "step", "cancel":
		return phase
	default:
		return "unknown"
	}
}
