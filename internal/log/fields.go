// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldMessageID  = "message_id"
	FieldSubscriber = "subscriber"
	FieldBehaviour  = "behaviour"
	FieldPublisher  = "publisher"
	FieldMacro      = "macro"

	// Bus fields
	FieldEvent    = "event"
	FieldPriority = "priority"
	FieldGroup    = "group"
	FieldTick     = "tick"
	FieldAgeMS    = "age_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	FieldComponent = "component"
)
