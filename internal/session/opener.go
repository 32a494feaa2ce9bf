package session

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JoJoGatito/koji-gallery/internal/broker"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

// Opener opens a fresh slot handle for key, along with the watcher that
// reports other contexts' writes to it. A nil watcher means the store is
// never told about foreign writes.
type Opener func(key string) (slot.Slot, slot.Watcher)

func MemoryOpener(hub *slot.MemoryHub) Opener {
	return func(key string) (slot.Slot, slot.Watcher) {
		s := hub.Open(key)
		return s, s
	}
}

func RedisOpener(client *redis.Client, ttl time.Duration) Opener {
	return func(key string) (slot.Slot, slot.Watcher) {
		s := slot.NewRedisSlot(client, key, slot.WithTTL(ttl))
		return s, s
	}
}

// MongoOpener has no change feed of its own; pair it with WithBroker.
func MongoOpener(db *mongo.Database) Opener {
	return func(key string) (slot.Slot, slot.Watcher) {
		return slot.NewMongoSlot(db, key), nil
	}
}

// WithBroker announces every write through k and watches k instead of the
// slot backend's own notifications.
func WithBroker(open Opener, k *broker.Kafka, onError func(error)) Opener {
	return func(key string) (slot.Slot, slot.Watcher) {
		s, _ := open(key)
		return slot.WithPublisher(s, k, onError), k.Watcher(key)
	}
}
