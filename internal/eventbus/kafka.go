package eventbus

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// publishTimeout bounds a single write so a slow broker does not block callers indefinitely.
const publishTimeout = 5 * time.Second

// KafkaBus implements Bus with segmentio/kafka-go. Messages are keyed (e.g. by user id) so
// events for one user land on one partition in order. Offsets are committed only after the
// handler succeeds or drops the message; until then the partition redelivers with backoff.
type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer
	retry   RetryPolicy

	// life ends consumers, and any redelivery they are waiting on, on Close.
	life context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
	wg      sync.WaitGroup
}

// NewKafkaBus returns a bus writing to and reading from brokers. brokers must be non-empty.
func NewKafkaBus(brokers []string) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, errors.New("eventbus: kafka requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	life, stop := context.WithCancel(context.Background())
	return &KafkaBus{brokers: brokers, writer: writer, retry: DefaultRetryPolicy, life: life, stop: stop}, nil
}

// Publish writes msg to its topic.
func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	km := kafka.Message{
		Topic: msg.Topic,
		Value: msg.Body,
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := b.writer.WriteMessages(writeCtx, km); err != nil {
		log.Printf("eventbus: kafka publish to %s failed: %v", msg.Topic, err)
		return err
	}
	return nil
}

// Subscribe starts a consumer-group reader for topic. An empty group gets a unique one,
// so the subscriber sees every message.
func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	if group == "" {
		group = "anon-" + uuid.NewString()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = reader.Close()
		return ErrClosed
	}
	b.readers = append(b.readers, reader)
	b.wg.Add(1)
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(b.life, cancel)
	go func() {
		defer b.wg.Done()
		defer cancel()
		defer stopOnClose()
		b.consume(ctx, reader, h)
	}()
	return nil
}

func (b *KafkaBus) consume(ctx context.Context, reader *kafka.Reader, h Handler) {
	topic := reader.Config().Topic
	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			log.Printf("eventbus: kafka read from %s failed: %v", topic, err)
			continue
		}
		msg := Message{Topic: km.Topic, Key: string(km.Key), Body: km.Value}
		if len(km.Headers) > 0 {
			msg.Headers = make(map[string]string, len(km.Headers))
			for _, hd := range km.Headers {
				msg.Headers[hd.Key] = string(hd.Value)
			}
		}
		if err := deliver(ctx, h, msg, b.retry); err != nil {
			if ctx.Err() != nil {
				// Uncommitted; the group redelivers it after restart or rebalance.
				return
			}
			log.Printf("eventbus: kafka message %s/%d@%d dropped: %v", km.Topic, km.Partition, km.Offset, err)
		}
		if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			log.Printf("eventbus: kafka commit on %s failed: %v", topic, err)
		}
	}
}

// Close closes the writer and every reader. Safe to call multiple times.
func (b *KafkaBus) Close() error {
	b.stop()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
