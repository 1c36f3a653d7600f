// Package live applies pushed "record created" events to the dashboard
// without a reload. Events arrive on an in-process bus or through a
// persisted pending list drained on the next load; both paths dedupe by
// lead id.
package live

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TypeRecordCreated is the only event type the dashboard consumes.
const TypeRecordCreated = "recordCreated"

// Event is the bus envelope.
type Event struct {
	Type   string          `json:"type"`
	ID     uuid.UUID       `json:"id"`
	At     time.Time       `json:"at"`
	Record json.RawMessage `json:"record,omitempty"`
}

// RecordCreated wraps raw in a new creation event.
func RecordCreated(raw json.RawMessage) Event {
	return Event{
		Type:   TypeRecordCreated,
		ID:     uuid.New(),
		At:     time.Now().UTC(),
		Record: raw,
	}
}
