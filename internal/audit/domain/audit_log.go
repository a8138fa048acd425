package domain

import "time"

// Status values for an audit entry.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// AuditLog is one append-only record of an identity action, successful or not.
type AuditLog struct {
	ID        string
	Event     string // category, e.g. auth.sign_in
	Message   string
	Status    string
	UserID    string // empty when the action had no authenticated user
	CreatedAt time.Time
}
