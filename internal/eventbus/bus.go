// Package eventbus is the publish/subscribe transport shared by the identity services.
// Delivery is at-least-once for the kafka, amqp and memory drivers: a message is acknowledged
// only after its handler succeeds, so handlers must be idempotent.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Well-known message headers.
const (
	HeaderCorrelationID = "correlation_id"
	HeaderReplyTo       = "reply_to"
	HeaderEventType     = "event_type"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
	DriverAMQP   = "amqp"
	DriverRedis  = "redis"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("eventbus: closed")

// Message is a single bus record. Key is used for partitioning where the driver supports it.
type Message struct {
	Topic   string
	Key     string
	Headers map[string]string
	Body    []byte
}

// Header returns the header value for name, or "".
func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// Handler processes one delivery. A non-nil error asks the driver to redeliver;
// wrap it with Drop to discard a message that can never be handled.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes messages and delivers them to subscribers.
type Bus interface {
	// Publish hands msg to the transport. It returns once the transport accepted it,
	// never waiting for subscribers to process it.
	Publish(ctx context.Context, msg Message) error
	// Subscribe starts delivering messages on topic to h in the background until ctx is done
	// or the bus is closed. Subscribers sharing a non-empty group split the messages;
	// each distinct group receives its own copy.
	Subscribe(ctx context.Context, topic, group string, h Handler) error
	// Close releases transport resources. Safe to call more than once.
	Close() error
}

// Options selects and configures a driver.
type Options struct {
	Driver        string
	KafkaBrokers  []string
	AMQPURL       string
	AMQPExchange  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the Bus for opts.Driver.
func Open(ctx context.Context, opts Options) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemoryBus(), nil
	case DriverKafka:
		return NewKafkaBus(opts.KafkaBrokers)
	case DriverAMQP:
		return NewAMQPBus(opts.AMQPURL, opts.AMQPExchange)
	case DriverRedis:
		return NewRedisBus(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	default:
		return nil, fmt.Errorf("eventbus: unknown driver %q", opts.Driver)
	}
}

// RetryPolicy controls redelivery of a message whose handler failed. Delays grow
// exponentially from InitialInterval up to MaxInterval.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxAttempts bounds handler calls. Zero keeps redelivering until the handler
	// succeeds or the delivery context ends.
	MaxAttempts uint
}

// DefaultRetryPolicy redelivers until success, backing off to one attempt every 30s.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     30 * time.Second,
}

// noDeadline disables the elapsed-time cap on redelivery.
const noDeadline = time.Duration(math.MaxInt64)

// Drop wraps err so deliver gives up on the message at once instead of redelivering it.
func Drop(err error) error {
	return backoff.Permanent(err)
}

// deliver runs h until it succeeds, returns a Drop error, the policy's attempts run out
// or ctx ends. It returns nil only on success; callers must not acknowledge otherwise.
func deliver(ctx context.Context, h Handler, msg Message, p RetryPolicy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(noDeadline),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("eventbus: handler for %s failed, redelivering in %s: %v", msg.Topic, next, err)
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, msg)
	}, opts...)
	return err
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
