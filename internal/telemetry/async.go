package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"cryptoforum/backend/internal/telemetry/domain"
)

// DefaultEmitTimeout bounds a single background emit.
const DefaultEmitTimeout = 5 * time.Second

// Mirror copies identity events to an EventEmitter off the caller's path and
// tracks emits in flight so shutdown can drain them before the providers close.
// A nil *Mirror and a Mirror without an emitter both drop events.
type Mirror struct {
	emitter EventEmitter
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewMirror returns a Mirror on emitter. emitter may be nil.
func NewMirror(emitter EventEmitter) *Mirror {
	return &Mirror{emitter: emitter, timeout: DefaultEmitTimeout}
}

// Emit forwards event in a goroutine. The emit runs on its own context so a
// cancelled request does not abort it.
func (m *Mirror) Emit(event *domain.Event) {
	if m == nil || m.emitter == nil || event == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.emitter.Emit(ctx, event); err != nil {
			log.Printf("telemetry: mirror %s %s failed: %v", event.Type, event.ID, err)
		}
	}()
}

// Drain waits for emits in flight. It returns ctx.Err() if ctx ends first.
func (m *Mirror) Drain(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
