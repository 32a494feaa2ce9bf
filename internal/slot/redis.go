package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSlot keeps the value in a plain key and announces every write on a
// pub/sub channel in the same MULTI block, so a subscriber never sees a
// signal for a value that is not stored yet.
type RedisSlot struct {
	client *redis.Client
	key    string
	origin string
	ttl    time.Duration
}

type RedisOption func(*RedisSlot)

// WithTTL expires abandoned carts. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSlot) { s.ttl = ttl }
}

func NewRedisSlot(client *redis.Client, key string, opts ...RedisOption) *RedisSlot {
	s := &RedisSlot{
		client: client,
		key:    key,
		origin: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r *RedisSlot) Key() string    { return r.key }
func (r *RedisSlot) Origin() string { return r.origin }

func (r *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisSlot) Save(ctx context.Context, value []byte) error {
	msg, err := json.Marshal(Change{Key: r.key, Origin: r.origin, Value: value})
	if err != nil {
		return fmt.Errorf("marshal change failed: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, value, r.ttl)
		pipe.Publish(ctx, changesChannel(r.key), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisSlot) Watch(ctx context.Context) (<-chan Change, error) {
	ps := r.client.Subscribe(ctx, changesChannel(r.key))
	// Wait for the subscription confirmation so no write after Watch returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					continue
				}
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

func changesChannel(key string) string {
	return key + ":changes"
}
