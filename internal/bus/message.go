// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/kelpie/internal/event"
)

// Message is one immutable unit of bus traffic. Messages are created only by
// the bus on publish; consumers hold read-only views.
type Message struct {
	id        uuid.UUID
	typ       event.Type
	priority  int
	payload   any
	createdAt time.Time
	expiresAt time.Time
}

// NewMessage builds a message from a catalog definition. The bus calls this
// on publish; tests may use it to fabricate traffic with a fixed clock.
func NewMessage(def event.Def, payload any, now time.Time, maxAge time.Duration) *Message {
	return &Message{
		id:        uuid.New(),
		typ:       def.Type,
		priority:  def.Priority,
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(maxAge),
	}
}

// ID returns the unique message id.
func (m *Message) ID() uuid.UUID { return m.id }

// Type returns the event type.
func (m *Message) Type() event.Type { return m.typ }

// Priority returns the catalog priority copied at creation.
func (m *Message) Priority() int { return m.priority }

// Payload returns the opaque payload supplied at publish time.
func (m *Message) Payload() any { return m.payload }

// CreatedAt returns the creation timestamp.
func (m *Message) CreatedAt() time.Time { return m.createdAt }

// ExpiresAt returns the instant after which the bus drops the message.
func (m *Message) ExpiresAt() time.Time { return m.expiresAt }

// Age returns the message age relative to now.
func (m *Message) Age(now time.Time) time.Duration { return now.Sub(m.createdAt) }

// ExpiredAt reports whether the message is past its lifetime at now.
func (m *Message) ExpiredAt(now time.Time) bool { return !m.expiresAt.After(now) }

// Candidate is one subscriber's submission to arbitration, derived from a
// consumed message. Several subscribers may submit candidates for the same
// message with their own payload interpretations.
type Candidate struct {
	Message  *Message
	Priority int
	Payload  any

	// Subscriber and Seq are stamped by the bus during candidate
	// collection; Seq fixes the stable submission order within a tick.
	Subscriber string
	Seq        int
}

// Candidate builds the default arbitration candidate for the message: the
// catalog priority and the raw payload.
func (m *Message) Candidate() *Candidate {
	return &Candidate{Message: m, Priority: m.priority, Payload: m.payload}
}
