package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/JoJoGatito/koji-gallery/internal/broker"
	"github.com/JoJoGatito/koji-gallery/internal/catalog"
	"github.com/JoJoGatito/koji-gallery/internal/config"
	"github.com/JoJoGatito/koji-gallery/internal/session"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

// backends holds the connections behind the slot opener; Close releases
// them in reverse order of opening.
type backends struct {
	open    session.Opener
	kafka   *broker.Kafka
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger, onPublishError func(error)) (*backends, error) {
	b := &backends{}

	switch cfg.SlotBackend {
	case config.SlotRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.open = session.RedisOpener(client, cfg.SlotTTL)
		log.Info("redis slot backend ready", "addr", cfg.RedisAddr)

	case config.SlotMongo:
		db, err := slot.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		b.closers = append(b.closers, func() error {
			return db.Client().Disconnect(context.Background())
		})
		if err := slot.CreateIndexes(ctx, db, cfg.SlotTTL); err != nil {
			b.Close()
			return nil, fmt.Errorf("mongo indexes failed: %w", err)
		}
		b.open = session.MongoOpener(db)
		log.Info("mongo slot backend ready", "db", cfg.MongoDBName)

	default:
		b.open = session.MemoryOpener(slot.NewMemoryHub())
		log.Info("memory slot backend ready")
	}

	if cfg.SyncBackend == config.SyncKafka {
		b.kafka = broker.NewKafka(broker.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  log,
		})
		b.closers = append(b.closers, b.kafka.Close)
		b.open = session.WithBroker(b.open, b.kafka, onPublishError)
		log.Info("kafka change sync enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else if cfg.SlotBackend == config.SlotMongo {
		log.Warn("mongo slots without kafka sync: other replicas will not see cart changes")
	}

	return b, nil
}

// openCatalog returns a nil provider for the none backend.
func openCatalog(cfg *config.Config, rec catalog.Recorder, log *slog.Logger) (catalog.Provider, func() error, error) {
	nop := func() error { return nil }

	switch cfg.CatalogBackend {
	case config.CatalogSQLite:
		db, err := catalog.NewSQLite(cfg.CatalogDBPath)
		if err != nil {
			return nil, nop, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, nop, err
		}
		log.Info("sqlite catalog ready", "path", cfg.CatalogDBPath)
		return catalog.Observed(db, rec), db.Close, nil

	case config.CatalogSanity:
		s := catalog.NewSanity(catalog.SanityConfig{
			ProjectID:  cfg.SanityProjectID,
			Dataset:    cfg.SanityDataset,
			APIVersion: cfg.SanityAPIVersion,
			Token:      cfg.SanityToken,
			UseCDN:     cfg.SanityUseCDN,
			Timeout:    cfg.RequestTimeout,
		})
		log.Info("sanity catalog ready", "project", cfg.SanityProjectID, "dataset", cfg.SanityDataset)
		return catalog.Observed(s, rec), nop, nil

	default:
		log.Info("no catalog configured, trusting posted artwork")
		return nil, nop, nil
	}
}
