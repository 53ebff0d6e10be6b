package local

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/creastat/chatsync"
)

// StoreType represents the type of local store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// NewStore creates a new Store based on the given type.
// For Redis, requires WithRedisClient. For SQLite, requires WithSQLitePath.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(config.logger), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
		}
		return NewRedisStore(config.redisClient, config.redisTTL, config.redisPrefix, config.logger), nil

	case StoreTypeSQLite:
		if config.sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
		}
		store, err := OpenSQLiteStore(config.sqlitePath, config.logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, storeType)
	}
}

// sortSessions orders sessions by CreatedAt, then ID.
func sortSessions(sessions []*chatsync.ChatSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
