// Package router moves identity events between this service and the bus: Publisher sends
// lifecycle events out, Router consumes the ones the auth service must act on.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/observability"
)

// ConsumerGroup is the group the auth service consumes identity events under.
// Every instance shares it, so each event is handled once per deployment.
const ConsumerGroup = "auth-service"

// SessionInvalidator ends a user's session; implemented by service.TokenManager.
type SessionInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// AuditAppender persists audit entries; implemented by audit.Sink.
type AuditAppender interface {
	Append(ctx context.Context, e events.LogAction) error
}

// errMalformed marks events that can never be handled and are dropped instead of redelivered.
var errMalformed = errors.New("malformed identity event")

// Router dispatches consumed identity events. Handlers are idempotent, so at-least-once
// delivery is safe: deleting an absent session is a no-op and duplicate audit rows are tolerated.
type Router struct {
	bus      eventbus.Bus
	sessions SessionInvalidator
	audit    AuditAppender
	group    string
}

// NewRouter returns a Router consuming with ConsumerGroup.
func NewRouter(bus eventbus.Bus, sessions SessionInvalidator, audit AuditAppender) *Router {
	return &Router{bus: bus, sessions: sessions, audit: audit, group: ConsumerGroup}
}

// consumed lists the event types this service acts on.
var consumed = []events.Type{
	events.TypeUserLoggedOut,
	events.TypeLogAction,
	events.TypeAccountClosed,
	events.TypeUserUpdated,
}

// Start subscribes to every consumed topic. Subscriptions end when ctx is canceled.
func (r *Router) Start(ctx context.Context) error {
	for _, t := range consumed {
		if err := r.bus.Subscribe(ctx, events.Topic(t), r.group, r.Handle); err != nil {
			return fmt.Errorf("router: subscribe %s: %w", t, err)
		}
	}
	log.Printf("router: consuming %d identity topics as %s", len(consumed), r.group)
	return nil
}

// Handle processes one bus message. It returns an error only for transient failures,
// which makes the bus redeliver; malformed events are reported and acknowledged.
func (r *Router) Handle(ctx context.Context, msg eventbus.Message) error {
	err := r.dispatch(ctx, msg)
	if errors.Is(err, errMalformed) {
		log.Printf("router: dropping message on %s: %v", msg.Topic, err)
		observability.CaptureError(err, map[string]string{"component": "router", "topic": msg.Topic})
		return nil
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, msg eventbus.Message) error {
	env, ev, err := events.Decode(msg.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch e := ev.(type) {
	case events.UserLoggedOut:
		return r.invalidate(ctx, env, e.UserID)
	case events.AccountClosed:
		return r.invalidate(ctx, env, e.UserID)
	case events.UserUpdated:
		if !touchesCredentials(e.Fields) {
			return nil
		}
		return r.invalidate(ctx, env, e.UserID)
	case events.LogAction:
		if e.Event == "" || (e.Status != events.StatusSuccess && e.Status != events.StatusError) {
			return fmt.Errorf("%w: log action %s without event or valid status", errMalformed, env.ID)
		}
		return r.audit.Append(ctx, e)
	}
	return fmt.Errorf("%w: unexpected %s on %s", errMalformed, env.Type, msg.Topic)
}

func (r *Router) invalidate(ctx context.Context, env *events.Envelope, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: %s %s without user id", errMalformed, env.Type, env.ID)
	}
	return r.sessions.Invalidate(ctx, userID)
}

// touchesCredentials reports whether an update changed what the current tokens vouch for.
func touchesCredentials(fields map[string]string) bool {
	_, email := fields["email"]
	_, password := fields["password"]
	return email || password
}
