package domain

import "time"

// Event is the telemetry view of a published identity event.
type Event struct {
	ID         string
	Type       string
	UserID     string // empty for anonymous actions
	Source     string // emitting service
	Payload    []byte // JSON
	OccurredAt time.Time
}
