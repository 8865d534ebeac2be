// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import "errors"

var (
	// ErrUnknownEventType is returned by Publish for a type missing from the catalog.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrBusClosed is returned when publishing to a bus whose Run has ended.
	ErrBusClosed = errors.New("bus is closed")

	// ErrDuplicateSubscriber is returned when a subscriber id is already registered.
	ErrDuplicateSubscriber = errors.New("subscriber already registered")

	// ErrUnknownSubscriber is returned when deregistering an id that is not registered.
	ErrUnknownSubscriber = errors.New("subscriber not registered")

	// ErrDeliveryTimeout marks a delivery abandoned after the per-delivery bound.
	ErrDeliveryTimeout = errors.New("delivery timed out")

	// ErrAckCorruption signals acknowledgement bookkeeping that violates the
	// exactly-once invariant. It is fatal: Run halts when a tick reports it.
	ErrAckCorruption = errors.New("acknowledgement set corrupted")
)
