// Package broker carries slot changes between processes over Kafka, for slot
// backends that have no change notifications of their own.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

const DefaultTopic = "cart-slot-changes"

type Config struct {
	Brokers []string
	Topic   string
	// GroupID defaults to a per-process id: every process must see every change.
	GroupID string
	// StartOffset defaults to kafka.LastOffset; a fresh process has no
	// interest in changes made before it started.
	StartOffset int64
	Logger      *slog.Logger
}

// Kafka publishes slot changes and fans the ones it reads out to local
// watchers, one reader per process.
type Kafka struct {
	writer *kafka.Writer
	reader *kafka.Reader
	log    *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan slot.Change]struct{}
}

func NewKafka(cfg Config) *Kafka {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "koji-cart-" + uuid.NewString()
	}
	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafka.LastOffset
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: cfg.StartOffset,
		MaxBytes:    10e6, // 10MB
	})
	return &Kafka{
		writer: w,
		reader: r,
		log:    cfg.Logger,
		subs:   make(map[string]map[chan slot.Change]struct{}),
	}
}

// Publish writes c keyed by slot key, so changes to one cart stay ordered.
func (k *Kafka) Publish(ctx context.Context, c slot.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change failed: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(c.Key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "origin", Value: []byte(c.Origin)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish change failed: %w", err)
	}
	return nil
}

// Run reads changes until ctx is done.
func (k *Kafka) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		k.readAndDispatch(ctx)
	}
}

func (k *Kafka) readAndDispatch(ctx context.Context) {
	m, err := k.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			k.log.ErrorContext(ctx, "error reading change", "error", err)
		}
		return
	}

	var c slot.Change
	if err := json.Unmarshal(m.Value, &c); err != nil {
		k.log.WarnContext(ctx, "error parsing change", "offset", m.Offset, "error", err)
		return
	}
	k.dispatch(c)
}

// dispatch hands c to every watcher of its key. A lagging watcher has its
// pending change replaced, never the newest one dropped.
func (k *Kafka) dispatch(c slot.Change) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for ch := range k.subs[c.Key] {
		slot.Offer(ch, c)
	}
}

// Watcher returns a slot.Watcher for changes to key.
func (k *Kafka) Watcher(key string) slot.Watcher {
	return keyWatcher{k: k, key: key}
}

// Subscribers reports how many watches are active on key.
func (k *Kafka) Subscribers(key string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.subs[key])
}

func (k *Kafka) Close() error {
	werr := k.writer.Close()
	rerr := k.reader.Close()
	if werr != nil {
		return fmt.Errorf("close writer: %w", werr)
	}
	if rerr != nil {
		return fmt.Errorf("close reader: %w", rerr)
	}
	return nil
}

func (k *Kafka) subscribe(key string) chan slot.Change {
	ch := make(chan slot.Change, 1)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.subs[key] == nil {
		k.subs[key] = make(map[chan slot.Change]struct{})
	}
	k.subs[key][ch] = struct{}{}
	return ch
}

func (k *Kafka) unsubscribe(key string, ch chan slot.Change) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.subs[key], ch)
	if len(k.subs[key]) == 0 {
		delete(k.subs, key)
	}
}

type keyWatcher struct {
	k   *Kafka
	key string
}

func (w keyWatcher) Watch(ctx context.Context) (<-chan slot.Change, error) {
	in := w.k.subscribe(w.key)
	out := make(chan slot.Change)
	go func() {
		defer close(out)
		defer w.k.unsubscribe(w.key, in)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-in:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
