package supabase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/remote"
)

// DefaultTable holds one row per (user_id, id) session.
const DefaultTable = "chat_sessions"

// Config holds Supabase connection configuration
type Config struct {
	URL       string
	APIKey    string
	Table     string        // Default: chat_sessions
	HealthTTL time.Duration // Default: 30 seconds
}

// Client implements remote.Store on a Supabase (PostgREST) table.
//
// PostgREST calls take no context, so each one runs in its own goroutine and
// the caller stops waiting when ctx ends.
type Client struct {
	client    *supabase.Client
	table     string
	healthTTL time.Duration
	health    *cache
}

// cache remembers the last health probe so repeated checks stay cheap.
type cache struct {
	mu    sync.RWMutex
	entry *cacheEntry[remote.Health]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// row is the stored document shape.
type row struct {
	UserID    string                 `json:"user_id"`
	ID        string                 `json:"id"`
	Date      string                 `json:"date"`
	Messages  []chatsync.ChatMessage `json:"messages"`
	Summary   string                 `json:"summary"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Version   int64                  `json:"version"`
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required: %w", chatsync.ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required: %w", chatsync.ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.HealthTTL == 0 {
		cfg.HealthTTL = 30 * time.Second
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:    client,
		table:     cfg.Table,
		healthTTL: cfg.HealthTTL,
		health:    &cache{},
	}, nil
}

// Initialize implements remote.Store by probing the sessions table.
func (c *Client) Initialize(ctx context.Context) error {
	c.forgetHealth()
	h := c.HealthCheck(ctx)
	if !h.Reachable {
		if h.Err != nil {
			return classify("initialize", h.Err)
		}
		return remote.NewError("initialize", remote.KindUnreachable, errors.New("supabase unreachable"))
	}
	return nil
}

// Upsert implements remote.Store.
func (c *Client) Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error {
	doc := toRow(userID, session)
	return run(ctx, "upsert", func() error {
		_, _, err := c.query().
			Upsert(doc, "user_id,id", "minimal", "").
			Execute()
		return err
	})
}

// Delete implements remote.Store.
func (c *Client) Delete(ctx context.Context, userID, sessionID string) error {
	return run(ctx, "delete", func() error {
		_, _, err := c.query().
			Delete("minimal", "").
			Eq("user_id", userID).
			Eq("id", sessionID).
			Execute()
		return err
	})
}

// List implements remote.Store.
func (c *Client) List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error) {
	var rows []row
	err := run(ctx, "list", func() error {
		_, err := c.query().
			Select("*", "", false).
			Eq("user_id", userID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*chatsync.ChatSession, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].session())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HealthCheck implements remote.Store. Results are cached for HealthTTL.
func (c *Client) HealthCheck(ctx context.Context) remote.Health {
	if cached, ok := c.cachedHealth(); ok {
		return cached
	}

	start := time.Now()
	err := run(ctx, "health", func() error {
		_, _, err := c.query().
			Select("id", "", true).
			Limit(1, "").
			Execute()
		return err
	})
	h := remote.Health{Reachable: err == nil, Latency: time.Since(start), CheckedAt: start, Err: err}

	// Only cache definite answers; a cancelled probe says nothing about the backend.
	if ctx.Err() == nil {
		c.storeHealth(h)
	}
	return h
}

func (c *Client) query() *postgrest.QueryBuilder {
	return c.client.From(c.table)
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

func (c *Client) cachedHealth() (remote.Health, bool) {
	c.health.mu.RLock()
	defer c.health.mu.RUnlock()

	if e := c.health.entry; e != nil && time.Now().Before(e.expiresAt) {
		return e.value, true
	}
	return remote.Health{}, false
}

func (c *Client) storeHealth(h remote.Health) {
	c.health.mu.Lock()
	defer c.health.mu.Unlock()

	c.health.entry = &cacheEntry[remote.Health]{
		value:     h,
		expiresAt: time.Now().Add(c.healthTTL),
	}
}

func (c *Client) forgetHealth() {
	c.health.mu.Lock()
	defer c.health.mu.Unlock()
	c.health.entry = nil
}

// run executes fn and stops waiting when ctx ends.
func run(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return classify(op, err)
		}
		return nil
	case <-ctx.Done():
		return remote.NewError(op, remote.KindUnreachable, ctx.Err())
	}
}

// classify maps PostgREST error codes and gateway statuses to remote kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "pgrst301", "pgrst302", "jwt", "42501", "invalid api key", "permission denied", "(401)", "(403)"):
		return remote.NewError(op, remote.KindUnauthorized, err)
	case containsAny(msg, "pgrst116", "pgrst205", "42p01", "(404)"):
		return remote.NewError(op, remote.KindNotFound, err)
	case containsAny(msg, "(429)", "too many requests", "rate limit", "53300"):
		return remote.NewError(op, remote.KindThrottled, err)
	case containsAny(msg, "connection refused", "no such host", "i/o timeout", "eof"):
		return remote.NewError(op, remote.KindUnreachable, err)
	}
	return remote.Classify(op, err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toRow(userID string, s *chatsync.ChatSession) row {
	msgs := s.Messages
	if msgs == nil {
		msgs = []chatsync.ChatMessage{}
	}
	return row{
		UserID:    userID,
		ID:        s.ID,
		Date:      s.Date,
		Messages:  msgs,
		Summary:   s.Summary,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Version:   s.Version,
	}
}

func (r *row) session() *chatsync.ChatSession {
	return &chatsync.ChatSession{
		ID:        r.ID,
		Date:      r.Date,
		Messages:  r.Messages,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

// Compile-time check that Client implements remote.Store
var _ remote.Store = (*Client)(nil)
