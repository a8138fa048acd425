// Package events defines the identity lifecycle events exchanged between services.
// Each consumer decodes its own copy; events carry no ownership beyond the bus delivery.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an identity event and doubles as the suffix of its topic.
type Type string

const (
	TypeUserSignedUp     Type = "user_signed_up"
	TypeUserLoggedOut    Type = "user_logged_out"
	TypeAccountConfirmed Type = "account_confirmed"
	TypeUserUpdated      Type = "user_updated"
	TypeLogAction        Type = "log_action"
	TypeAccountClosed    Type = "account_closed"
)

// AllTypes lists every identity event type.
var AllTypes = []Type{
	TypeUserSignedUp,
	TypeUserLoggedOut,
	TypeAccountConfirmed,
	TypeUserUpdated,
	TypeLogAction,
	TypeAccountClosed,
}

// Topic returns the bus topic for t.
func Topic(t Type) string {
	return "identity." + string(t)
}

// Event is implemented by every identity event payload.
type Event interface {
	EventType() Type
	// PartitionKey groups events that must stay ordered (the user id where there is one).
	PartitionKey() string
}

type UserSignedUp struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	ConfirmationHash string `json:"confirmation_hash"`
}

type UserLoggedOut struct {
	UserID string `json:"user_id"`
}

type AccountConfirmed struct {
	HashID string `json:"hash_id"`
	UserID string `json:"user_id"`
}

// UserUpdated lists the settings that changed. Values of secret fields are never carried.
type UserUpdated struct {
	UserID string            `json:"user_id"`
	Fields map[string]string `json:"fields"`
}

// Status is the outcome recorded in an audit entry.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// LogAction is an audit record travelling to the audit log sink.
type LogAction struct {
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AccountClosed struct {
	UserID string `json:"user_id"`
}

func (UserSignedUp) EventType() Type     { return TypeUserSignedUp }
func (UserLoggedOut) EventType() Type    { return TypeUserLoggedOut }
func (AccountConfirmed) EventType() Type { return TypeAccountConfirmed }
func (UserUpdated) EventType() Type      { return TypeUserUpdated }
func (LogAction) EventType() Type        { return TypeLogAction }
func (AccountClosed) EventType() Type    { return TypeAccountClosed }

func (e UserSignedUp) PartitionKey() string     { return e.UserID }
func (e UserLoggedOut) PartitionKey() string    { return e.UserID }
func (e AccountConfirmed) PartitionKey() string { return e.UserID }
func (e UserUpdated) PartitionKey() string      { return e.UserID }
func (e LogAction) PartitionKey() string        { return e.UserID }
func (e AccountClosed) PartitionKey() string    { return e.UserID }

// Envelope is the wire form of every event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps e in an Envelope with a fresh id.
func NewEnvelope(e Event, at time.Time) (*Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", e.EventType(), err)
	}
	return &Envelope{
		ID:         uuid.NewString(),
		Type:       e.EventType(),
		OccurredAt: at.UTC(),
		Payload:    payload,
	}, nil
}

// Encode wraps e in an Envelope with a fresh id and returns its JSON.
func Encode(e Event, at time.Time) ([]byte, error) {
	env, err := NewEnvelope(e, at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses an envelope and its payload into the concrete event type.
func Decode(data []byte) (*Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("events: decode envelope: %w", err)
	}
	var e Event
	switch env.Type {
	case TypeUserSignedUp:
		e = &UserSignedUp{}
	case TypeUserLoggedOut:
		e = &UserLoggedOut{}
	case TypeAccountConfirmed:
		e = &AccountConfirmed{}
	case TypeUserUpdated:
		e = &UserUpdated{}
	case TypeLogAction:
		e = &LogAction{}
	case TypeAccountClosed:
		e = &AccountClosed{}
	default:
		return &env, nil, fmt.Errorf("events: unknown type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return &env, nil, fmt.Errorf("events: decode %s payload: %w", env.Type, err)
	}
	return &env, deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *UserSignedUp:
		return *v
	case *UserLoggedOut:
		return *v
	case *AccountConfirmed:
		return *v
	case *UserUpdated:
		return *v
	case *LogAction:
		return *v
	case *AccountClosed:
		return *v
	}
	return e
}
