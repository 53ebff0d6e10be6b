package local

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreOption is a functional option for configuring a local store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for local stores.
type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	redisPrefix string
	sqlitePath  string
	logger      *slog.Logger
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL expires session records after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithRedisPrefix namespaces every Redis key, e.g. per device profile.
func WithRedisPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.redisPrefix = prefix
	}
}

// WithSQLitePath sets the database file for the SQLite store.
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.sqlitePath = path
	}
}

// WithLogger sets the logger used to report skipped records.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}
