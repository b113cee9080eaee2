package domain

import (
	"encoding/json"
	"time"
)

// EventEnvelope is the change-feed record emitted for every version appended
// to the log. Downstream consumers mirror writes onto their own transports;
// the envelope carries enough to rebuild the version without reading back.
type EventEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Collection string          `json:"collection"`
	RecordID   string          `json:"record_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

const (
	EventRecordCreated = "record.created"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
)

type OutboxEvent struct {
	ID            int64
	EventID       string
	Collection    string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
