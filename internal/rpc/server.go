package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"cryptoforum/backend/internal/eventbus"
)

// HandlerFunc answers one request. The returned value is JSON-encoded into the reply;
// a *RemoteError is passed to the caller verbatim, any other error becomes code "internal".
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Server consumes requests from the bus and publishes replies.
type Server struct {
	bus   eventbus.Bus
	group string
}

// NewServer returns a server whose instances share the given consumer group, so each
// request is answered by one instance.
func NewServer(bus eventbus.Bus, group string) *Server {
	return &Server{bus: bus, group: group}
}

// Handle subscribes h to pattern's request topic.
func (s *Server) Handle(ctx context.Context, pattern string, h HandlerFunc) error {
	return s.bus.Subscribe(ctx, RequestTopic(pattern), s.group, func(ctx context.Context, msg eventbus.Message) error {
		id := msg.Header(eventbus.HeaderCorrelationID)
		replyTo := msg.Header(eventbus.HeaderReplyTo)
		if id == "" || replyTo == "" {
			log.Printf("rpc: %s request without correlation id or reply topic; dropped", pattern)
			return nil
		}
		out := reply{OK: true}
		data, err := h(ctx, msg.Body)
		if err == nil && data != nil {
			out.Data, err = json.Marshal(data)
		}
		if err != nil {
			out = reply{Error: toRemoteError(err)}
			var re *RemoteError
			if !errors.As(err, &re) {
				log.Printf("rpc: %s handler failed: %v", pattern, err)
			}
		}
		body, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("rpc: encode %s reply: %w", pattern, err)
		}
		return s.bus.Publish(ctx, eventbus.Message{
			Topic:   replyTo,
			Key:     id,
			Headers: map[string]string{eventbus.HeaderCorrelationID: id},
			Body:    body,
		})
	})
}

func toRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Code: "internal", Message: "internal error"}
}
