package hybrid

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/quota"
	"github.com/creastat/chatsync/remote"
)

// Backend selects where sessions are kept.
type Backend string

const (
	// BackendLocal never contacts the remote store.
	BackendLocal Backend = "local"
	// BackendHybrid keeps sessions locally and mirrors them for signed-in users.
	BackendHybrid Backend = "hybrid"
)

// Config is passed explicitly at construction.
type Config struct {
	StorageBackend Backend

	// QuotaMax is the guest allowance per calendar day.
	QuotaMax int

	// RemoteTimeout bounds each remote attempt.
	RemoteTimeout time.Duration

	// Location defines calendar days for buckets and the guest quota.
	Location *time.Location

	// Limits of ContextWindow. Zero disables a limit.
	ContextTokenLimit   int
	ContextMessageLimit int
}

// DefaultConfig returns a hybrid configuration with the standard guest quota.
func DefaultConfig() Config {
	return Config{
		StorageBackend:      BackendHybrid,
		QuotaMax:            quota.DefaultMax,
		RemoteTimeout:       remote.DefaultTimeout,
		Location:            time.Local,
		ContextTokenLimit:   3000,
		ContextMessageLimit: 40,
	}
}

func (c Config) withDefaults() Config {
	if c.StorageBackend == "" {
		c.StorageBackend = BackendHybrid
	}
	if c.QuotaMax == 0 {
		c.QuotaMax = quota.DefaultMax
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = remote.DefaultTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendLocal, BackendHybrid:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", chatsync.ErrInvalidConfig, c.StorageBackend)
	}
	if c.QuotaMax < 0 {
		return fmt.Errorf("%w: quota max must not be negative", chatsync.ErrInvalidConfig)
	}
	if c.RemoteTimeout < 0 {
		return fmt.Errorf("%w: remote timeout must not be negative", chatsync.ErrInvalidConfig)
	}
	if c.ContextTokenLimit < 0 || c.ContextMessageLimit < 0 {
		return fmt.Errorf("%w: context limits must not be negative", chatsync.ErrInvalidConfig)
	}
	return nil
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStateListener registers an observer of state transitions.
func WithStateListener(fn StateListener) Option {
	return func(s *Synchronizer) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// WithReconcileConcurrency bounds parallel uploads during login reconciliation.
func WithReconcileConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.reconcileLimit = n
		}
	}
}
