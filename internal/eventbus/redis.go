package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus with Redis pub/sub. Pub/sub has no persistence or consumer groups:
// every subscriber receives every message that arrives while it is connected, and a failed
// handler is not redelivered. Suited to RPC reply channels and single-instance deployments.
type RedisBus struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// redisFrame carries the parts of a Message that a pub/sub payload cannot.
type redisFrame struct {
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// NewRedisBus connects to addr and pings it with a short timeout.
func NewRedisBus(ctx context.Context, addr, password string, db int) (*RedisBus, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventbus: redis ping: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := json.Marshal(redisFrame{Key: msg.Key, Headers: msg.Headers, Body: msg.Body})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, msg.Topic, payload).Err(); err != nil {
		log.Printf("eventbus: redis publish to %s failed: %v", msg.Topic, err)
		return err
	}
	return nil
}

// Subscribe ignores group; see the type comment.
func (b *RedisBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("eventbus: redis subscribe %s: %w", topic, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case rm, ok := <-ch:
				if !ok {
					return
				}
				var f redisFrame
				if err := json.Unmarshal([]byte(rm.Payload), &f); err != nil {
					log.Printf("eventbus: redis frame on %s undecodable: %v", topic, err)
					continue
				}
				msg := Message{Topic: rm.Channel, Key: f.Key, Headers: f.Headers, Body: f.Body}
				if err := h(ctx, msg); err != nil {
					log.Printf("eventbus: redis handler for %s failed: %v", topic, err)
				}
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
