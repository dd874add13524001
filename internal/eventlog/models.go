package eventlog

import (
	"encoding/json"
	"time"

	"phonon/internal/calls"
)

// Record is an immutable, append-only copy of one call lifecycle event.
//
// Invariants:
// - Records are never updated or deleted.
// - call_id and type are required.
// - Logging is best-effort; calls never block on it.
//
// Storage (Postgres): table call_events, INSERT-only (see Schema).
type Record struct {
	ID     string          `json:"id" db:"id"`
	CallID string          `json:"call_id" db:"call_id"`
	Type   calls.EventType `json:"type" db:"type"`

	// Data is the event payload as JSON, empty when the event carries none.
	Data json.RawMessage `json:"data,omitempty" db:"data"`

	// OccurredAt is when the event was emitted; CreatedAt when it was stored.
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
