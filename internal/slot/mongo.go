package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "cart_slots"

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type slotDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	Origin    string    `bson:"origin"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoSlot stores one document per key. It has no change feed of its own;
// pair it with a Publisher (see Notifying) for cross-context sync.
type MongoSlot struct {
	collection *mongo.Collection
	key        string
	origin     string
}

func NewMongoSlot(db *mongo.Database, key string) *MongoSlot {
	return &MongoSlot{
		collection: db.Collection(mongoCollection),
		key:        key,
		origin:     uuid.NewString(),
	}
}

func (m *MongoSlot) Key() string    { return m.key }
func (m *MongoSlot) Origin() string { return m.origin }

func (m *MongoSlot) Load(ctx context.Context) ([]byte, error) {
	var doc slotDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": m.key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return []byte(doc.Value), nil
}

func (m *MongoSlot) Save(ctx context.Context, value []byte) error {
	update := bson.M{"$set": bson.M{
		"value":      string(value),
		"origin":     m.origin,
		"updated_at": time.Now(),
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": m.key}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert slot: %w", err)
	}
	return nil
}

// CreateIndexes expires slots untouched for ttl.
func CreateIndexes(ctx context.Context, db *mongo.Database, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
	}
	if _, err := db.Collection(mongoCollection).Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
