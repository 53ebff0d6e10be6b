package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/creastat/chatsync"
)

// Defaults applied by Guard for zero Policy fields.
const (
	DefaultTimeout        = 8 * time.Second
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// Policy bounds every remote call.
type Policy struct {
	// Timeout applies to each attempt.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for throttled or unreachable
	// failures. Values above 1 are clamped to 1; negative disables retries.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxRetries > 1 {
		p.MaxRetries = 1
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	return p
}

// DefaultPolicy is an 8s timeout with a single retry.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 1}.withDefaults()
}

// Guarded decorates a Store with timeouts, classification and a bounded retry.
type Guarded struct {
	next   Store
	policy Policy
}

// Guard wraps next so that no call blocks past its timeout or retries more than once.
func Guard(next Store, policy Policy) *Guarded {
	return &Guarded{next: next, policy: policy.withDefaults()}
}

// Initialize implements Store.
func (g *Guarded) Initialize(ctx context.Context) error {
	return g.call(ctx, "initialize", g.next.Initialize)
}

// Upsert implements Store.
func (g *Guarded) Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error {
	return g.call(ctx, "upsert", func(ctx context.Context) error {
		return g.next.Upsert(ctx, userID, session)
	})
}

// Delete implements Store.
func (g *Guarded) Delete(ctx context.Context, userID, sessionID string) error {
	return g.call(ctx, "delete", func(ctx context.Context) error {
		return g.next.Delete(ctx, userID, sessionID)
	})
}

// List implements Store.
func (g *Guarded) List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error) {
	var out []*chatsync.ChatSession
	err := g.call(ctx, "list", func(ctx context.Context) error {
		sessions, err := g.next.List(ctx, userID)
		if err != nil {
			return err
		}
		out = sessions
		return nil
	})
	return out, err
}

// HealthCheck implements Store. Probes are never retried.
func (g *Guarded) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()

	done := make(chan Health, 1)
	go func() { done <- g.next.HealthCheck(ctx) }()

	select {
	case h := <-done:
		return h
	case <-ctx.Done():
		return Health{CheckedAt: time.Now(), Err: NewError("health", KindUnreachable, ctx.Err())}
	}
}

// Close implements Store.
func (g *Guarded) Close() error {
	return g.next.Close()
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.InitialBackoff
	b.MaxInterval = g.policy.MaxBackoff
	b.MaxElapsedTime = 0

	retry := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.policy.MaxRetries)), ctx)
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()

		err := Classify(op, fn(attemptCtx))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retry)
	return Classify(op, err)
}

var _ Store = (*Guarded)(nil)
