// Package config loads service settings from an optional config file,
// overridden by environment variables, overridden by bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SlotMemory = "memory"
	SlotRedis  = "redis"
	SlotMongo  = "mongo"

	SyncSlot  = "slot"
	SyncKafka = "kafka"

	CatalogNone   = "none"
	CatalogSQLite = "sqlite"
	CatalogSanity = "sanity"
)

// Config keys double as environment variable names (upper-cased).
type Config struct {
	HTTPPort        string        `mapstructure:"http_port"`
	GRPCPort        string        `mapstructure:"grpc_port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	SlotBackend    string        `mapstructure:"slot_backend"`
	SyncBackend    string        `mapstructure:"sync_backend"`
	SlotTTL        time.Duration `mapstructure:"slot_ttl"`
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDBName string `mapstructure:"mongo_db_name"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	CatalogBackend   string `mapstructure:"catalog_backend"`
	CatalogDBPath    string `mapstructure:"catalog_db_path"`
	SanityProjectID  string `mapstructure:"sanity_project_id"`
	SanityDataset    string `mapstructure:"sanity_dataset"`
	SanityAPIVersion string `mapstructure:"sanity_api_version"`
	SanityToken      string `mapstructure:"sanity_token"`
	SanityUseCDN     bool   `mapstructure:"sanity_use_cdn"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("grpc_port", "50052")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("slot_backend", SlotMemory)
	v.SetDefault("sync_backend", SyncSlot)
	v.SetDefault("slot_ttl", 30*24*time.Hour)
	v.SetDefault("session_idle_ttl", 30*time.Minute)

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db_name", "cartdb")

	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_topic", "cart-slot-changes")

	v.SetDefault("catalog_backend", CatalogNone)
	v.SetDefault("catalog_db_path", "catalog.db")
	v.SetDefault("sanity_project_id", "t0ligyjl")
	v.SetDefault("sanity_dataset", "production")
	v.SetDefault("sanity_api_version", "2024-10-01")
	v.SetDefault("sanity_token", "")
	v.SetDefault("sanity_use_cdn", true)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
}

// Load reads configPath when set, then the environment, then flags. Flags are
// matched to keys by name with dashes for underscores.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	if flags != nil {
		known := v.AllSettings()
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := known[key]; !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// splitList accepts both a real list and a single comma-separated value, as
// KAFKA_BROKERS=a:9092,b:9092 arrives from the environment.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	switch c.SlotBackend {
	case SlotMemory, SlotRedis, SlotMongo:
	default:
		errs = append(errs, fmt.Errorf("slot_backend must be one of memory, redis, mongo; got %q", c.SlotBackend))
	}
	switch c.SyncBackend {
	case SyncSlot, SyncKafka:
	default:
		errs = append(errs, fmt.Errorf("sync_backend must be slot or kafka; got %q", c.SyncBackend))
	}
	if c.SyncBackend == SyncKafka && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("kafka_brokers is required for kafka sync"))
	}
	switch c.CatalogBackend {
	case CatalogNone, CatalogSQLite, CatalogSanity:
	default:
		errs = append(errs, fmt.Errorf("catalog_backend must be one of none, sqlite, sanity; got %q", c.CatalogBackend))
	}
	if c.CatalogBackend == CatalogSanity && (c.SanityProjectID == "" || c.SanityDataset == "") {
		errs = append(errs, errors.New("sanity_project_id and sanity_dataset are required for the sanity catalog"))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if c.SessionIdleTTL < 0 || c.SlotTTL < 0 {
		errs = append(errs, errors.New("ttls must not be negative"))
	}

	return errors.Join(errs...)
}

// CrossProcessSync reports whether carts written by other replicas reach this one.
func (c *Config) CrossProcessSync() bool {
	return c.SyncBackend == SyncKafka || c.SlotBackend == SlotRedis
}
