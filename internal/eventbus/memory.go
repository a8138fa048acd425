package eventbus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBus delivers messages in-process. Each delivery runs on its own goroutine,
// so Publish never waits on handlers. Failed deliveries are retried per Retry until
// they succeed or the bus is closed.
type MemoryBus struct {
	Retry RetryPolicy

	// life ends pending redeliveries on Close.
	life context.Context
	stop context.CancelFunc

	mu     sync.RWMutex
	topics map[string]map[string]*memoryGroup
	closed bool

	flightMu sync.Mutex
	idle     *sync.Cond
	inflight int
}

type memoryGroup struct {
	mu       sync.Mutex
	handlers map[uint64]Handler
	order    []uint64
	next     int
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	life, stop := context.WithCancel(context.Background())
	b := &MemoryBus{
		Retry:  RetryPolicy{InitialInterval: 10 * time.Millisecond, MaxInterval: time.Second},
		life:   life,
		stop:   stop,
		topics: make(map[string]map[string]*memoryGroup),
	}
	b.idle = sync.NewCond(&b.flightMu)
	return b
}

var subscriptionSeq struct {
	sync.Mutex
	n uint64
}

func nextSubscriptionID() uint64 {
	subscriptionSeq.Lock()
	defer subscriptionSeq.Unlock()
	subscriptionSeq.n++
	return subscriptionSeq.n
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, g := range b.topics[msg.Topic] {
		h := g.pick()
		if h == nil {
			continue
		}
		m := Message{Topic: msg.Topic, Key: msg.Key, Headers: copyHeaders(msg.Headers), Body: append([]byte(nil), msg.Body...)}
		b.begin()
		go func() {
			defer b.end()
			if err := deliver(b.life, h, m, b.Retry); err != nil {
				log.Printf("eventbus: memory delivery on %s abandoned: %v", m.Topic, err)
			}
		}()
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	if group == "" {
		group = "anon-" + uuid.NewString()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	groups, ok := b.topics[topic]
	if !ok {
		groups = make(map[string]*memoryGroup)
		b.topics[topic] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &memoryGroup{handlers: make(map[uint64]Handler)}
		groups[group] = g
	}
	id := nextSubscriptionID()
	g.add(id, h)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.remove(id)
	}()
	return nil
}

// Drain blocks until every in-flight delivery, including ones started by handlers, has finished.
func (b *MemoryBus) Drain() {
	b.flightMu.Lock()
	defer b.flightMu.Unlock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
}

func (b *MemoryBus) begin() {
	b.flightMu.Lock()
	b.inflight++
	b.flightMu.Unlock()
}

func (b *MemoryBus) end() {
	b.flightMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		b.idle.Broadcast()
	}
	b.flightMu.Unlock()
}

// Close stops accepting messages and abandons deliveries still waiting to be retried.
func (b *MemoryBus) Close() error {
	b.stop()
	b.mu.Lock()
	b.closed = true
	b.topics = make(map[string]map[string]*memoryGroup)
	b.mu.Unlock()
	return nil
}

func (g *memoryGroup) add(id uint64, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[id] = h
	g.order = append(g.order, id)
}

func (g *memoryGroup) remove(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// pick returns the next handler in round-robin order, or nil if the group is empty.
func (g *memoryGroup) pick() Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return nil
	}
	h := g.handlers[g.order[g.next%len(g.order)]]
	g.next++
	return h
}
