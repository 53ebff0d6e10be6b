package remote

import (
	"context"
	"time"

	"github.com/creastat/chatsync"
)

// Store is the client side of a remote document database holding a signed-in
// user's chat sessions. Any store with upsert/delete/list/health semantics fits.
type Store interface {
	// Initialize prepares the client (credentials, schema). It returns an
	// error of kind KindUnreachable when the backend cannot be contacted.
	Initialize(ctx context.Context) error

	// Upsert writes a session for userID, replacing older copies.
	Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID, sessionID string) error

	// List returns every session stored for userID.
	List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error)

	// HealthCheck probes reachability. It never returns an error.
	HealthCheck(ctx context.Context) Health

	// Close releases any resources held by the client.
	Close() error
}

// Health is the result of a reachability probe.
type Health struct {
	Reachable bool
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}
