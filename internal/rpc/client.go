package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoforum/backend/internal/eventbus"
)

const defaultTimeout = 5 * time.Second

// Client issues calls and routes replies back to the waiting caller by correlation id.
type Client struct {
	bus        eventbus.Bus
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan reply
	started bool
}

// NewClient returns a client whose replies arrive on the reply topic for instanceID.
// timeout bounds every call; 0 selects 5s. Start must be called before Call.
func NewClient(bus eventbus.Bus, instanceID string, timeout time.Duration) *Client {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		bus:        bus,
		replyTopic: ReplyTopic(instanceID),
		timeout:    timeout,
		pending:    make(map[string]chan reply),
	}
}

// Start subscribes to the client's reply topic. Replies stop being routed when ctx is done.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	// No group: every instance owns its reply topic outright.
	if err := c.bus.Subscribe(ctx, c.replyTopic, "", c.onReply); err != nil {
		return fmt.Errorf("rpc: subscribe replies: %w", err)
	}
	c.started = true
	return nil
}

// Call publishes req on pattern's request topic and decodes the matching reply into resp.
// resp may be nil when the caller only needs success. Returns ErrTimeout when no reply
// arrives within the client timeout, *RemoteError when the handler failed, or ctx.Err().
func (c *Client) Call(ctx context.Context, pattern string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: encode %s request: %w", pattern, err)
	}
	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errors.New("rpc: client not started")
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = c.bus.Publish(callCtx, eventbus.Message{
		Topic: RequestTopic(pattern),
		Key:   id,
		Headers: map[string]string{
			eventbus.HeaderCorrelationID: id,
			eventbus.HeaderReplyTo:       c.replyTopic,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("rpc: publish %s request: %w", pattern, err)
	}

	select {
	case r := <-ch:
		if !r.OK {
			if r.Error == nil {
				return &RemoteError{Code: "unknown", Message: "reply without error detail"}
			}
			return r.Error
		}
		if resp == nil || len(r.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.Data, resp); err != nil {
			return fmt.Errorf("rpc: decode %s reply: %w", pattern, err)
		}
		return nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}

// onReply resolves the pending call whose correlation id matches. Unknown ids (late,
// duplicated or foreign replies) are dropped.
func (c *Client) onReply(ctx context.Context, msg eventbus.Message) error {
	id := msg.Header(eventbus.HeaderCorrelationID)
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		log.Printf("rpc: dropping reply with unknown correlation id %q", id)
		return nil
	}
	var r reply
	if err := json.Unmarshal(msg.Body, &r); err != nil {
		r = reply{Error: &RemoteError{Code: "bad_reply", Message: err.Error()}}
	}
	ch <- r
	return nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
