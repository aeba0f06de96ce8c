package realtime

import (
	"time"

	"spendsync/cmd/identity/ids"
)

// NewConnectionID returns a ULID identifying one WebSocket connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}

// NewEventID returns a ULID used as mutation event id.
func NewEventID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
