// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_bus_published_total",
		Help: "Total number of messages accepted by the bus, by event type",
	}, []string{"event"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_bus_rejected_total",
		Help: "Total number of publications rejected by the bus, by reason",
	}, []string{"reason"})

	expiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_bus_expired_total",
		Help: "Total number of messages expired before full acknowledgement, by event type",
	}, []string{"event"})

	deliveryFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_bus_delivery_failure_total",
		Help: "Total number of failed deliveries, by subscriber and reason",
	}, []string{"subscriber", "reason"})

	acknowledgedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelpie_bus_acknowledged_total",
		Help: "Total number of message acknowledgements, by subscriber",
	}, []string{"subscriber"})

	collectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kelpie_bus_collected_total",
		Help: "Total number of fully-acknowledged messages reclaimed by the garbage collector",
	})

	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kelpie_bus_ticks_total",
		Help: "Total number of completed bus ticks",
	})
)

// IncPublished records a message accepted by the bus.
func IncPublished(event string) {
	publishedTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

// IncRejected records a rejected publication with a concrete reason.
func IncRejected(reason string) {
	rejectedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncExpired records a message removed by expiry before full acknowledgement.
func IncExpired(event string) {
	expiredTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

// IncDeliveryFailure records a delivery that errored or timed out.
func IncDeliveryFailure(subscriber, reason string) {
	deliveryFailureTotal.WithLabelValues(normalizeLabel(subscriber), normalizeLabel(reason)).Inc()
}

// IncAcknowledged records a subscriber acknowledgement.
func IncAcknowledged(subscriber string) {
	acknowledgedTotal.WithLabelValues(normalizeLabel(subscriber)).Inc()
}

// IncCollected records a message reclaimed after full acknowledgement.
func IncCollected() {
	collectedTotal.Inc()
}

// IncTick records one completed tick.
func IncTick() {
	ticksTotal.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
