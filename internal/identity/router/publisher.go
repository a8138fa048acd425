package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/telemetry"
	telemetrydomain "cryptoforum/backend/internal/telemetry/domain"
)

// asyncPublishTimeout bounds a best-effort publish started by PublishAsync.
const asyncPublishTimeout = 5 * time.Second

// Publisher encodes identity events and hands them to the bus. It never waits for consumers.
type Publisher struct {
	bus    eventbus.Bus
	mirror *telemetry.Mirror
	source string
	now    func() time.Time

	wg sync.WaitGroup
}

// NewPublisher returns a Publisher on bus. emitter may be nil; when set, every published
// event is mirrored to it. source names the emitting service in the mirror.
func NewPublisher(bus eventbus.Bus, emitter telemetry.EventEmitter, source string) *Publisher {
	return &Publisher{bus: bus, mirror: telemetry.NewMirror(emitter), source: source, now: time.Now}
}

// Publish encodes e and publishes it on its topic, keyed by user id.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	env, err := events.NewEnvelope(e, p.now())
	if err != nil {
		return err
	}
	body, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	msg := eventbus.Message{
		Topic:   events.Topic(env.Type),
		Key:     e.PartitionKey(),
		Headers: map[string]string{eventbus.HeaderEventType: string(env.Type)},
		Body:    body,
	}
	if err := p.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("router: publish %s: %w", env.Type, err)
	}
	p.mirror.Emit(&telemetrydomain.Event{
		ID:         env.ID,
		Type:       string(env.Type),
		UserID:     e.PartitionKey(),
		Source:     p.source,
		Payload:    env.Payload,
		OccurredAt: env.OccurredAt,
	})
	return nil
}

// PublishAsync publishes e in the background. Failures are logged and otherwise ignored;
// used for audit entries that must not slow down or fail the caller.
func (p *Publisher) PublishAsync(e events.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			log.Printf("router: async publish %s dropped: %v", e.EventType(), err)
		}
	}()
}

// Wait blocks until every PublishAsync call has finished. Call before closing the bus.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Flush waits for background publishes, then for mirrored events still being emitted.
func (p *Publisher) Flush(ctx context.Context) error {
	p.Wait()
	return p.mirror.Drain(ctx)
}

func marshalEnvelope(env *events.Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("router: encode %s: %w", env.Type, err)
	}
	return body, nil
}
