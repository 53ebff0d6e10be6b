package local

import (
	"context"

	"github.com/creastat/chatsync"
)

// Store is the on-device persistence layer for chat sessions.
//
// It never fails for structural reasons: a record that cannot be decoded is
// skipped and logged on read. Errors are reserved for the backing medium
// itself (a closed database, an unreachable redis).
type Store interface {
	// Get retrieves a session by ID.
	// Returns nil if the session is not found (not an error).
	Get(ctx context.Context, id string) (*chatsync.ChatSession, error)

	// Put writes a session, replacing any stored copy (last write wins).
	// A session that moved to another date is removed from the old bucket.
	Put(ctx context.Context, session *chatsync.ChatSession) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// ListDates returns every date holding at least one session, ascending.
	ListDates(ctx context.Context) ([]string, error)

	// ListSessionsForDate returns the sessions of a date ordered by
	// CreatedAt, then ID.
	ListSessionsForDate(ctx context.Context, date string) ([]*chatsync.ChatSession, error)

	// GetMeta reads a raw key-value entry used for quota state, markers and
	// legacy records.
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// SetMeta writes a raw key-value entry.
	SetMeta(ctx context.Context, key, value string) error

	// DeleteMeta removes a raw key-value entry.
	DeleteMeta(ctx context.Context, key string) error

	// ListMeta returns all raw entries whose key starts with prefix.
	ListMeta(ctx context.Context, prefix string) (map[string]string, error)

	// Close closes the store and releases any resources.
	Close() error
}
