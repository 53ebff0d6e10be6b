// Package quota enforces the daily message allowance of unauthenticated users.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/local"
)

const (
	// DefaultMax is the number of guest messages accepted per day.
	DefaultMax = 5

	// MetaKey is the local meta entry holding the guest counter.
	MetaKey = "quota:guest"
)

// State is the persisted guest counter.
type State struct {
	Count       int    `json:"count"`
	WindowStart string `json:"windowStart"`
}

// Tracker counts guest messages per local calendar day.
//
// The window is the calendar day in the configured location: a counter whose
// WindowStart differs from today is treated as empty.
type Tracker struct {
	store  local.Store
	max    int
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMax sets the daily allowance. Non-positive values keep the default.
func WithMax(max int) Option {
	return func(t *Tracker) {
		if max > 0 {
			t.max = max
		}
	}
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Tracker persisting into store.
func New(store local.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		max:    DefaultMax,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Max returns the daily allowance.
func (t *Tracker) Max() int { return t.max }

// Today returns the current window key.
func (t *Tracker) Today() string {
	return chatsync.DateKey(t.now().In(t.loc))
}

// State returns the counter for the current window.
func (t *Tracker) State(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// CanSendMessage reports whether another guest message is allowed today.
func (t *Tracker) CanSendMessage(ctx context.Context) (bool, error) {
	st, err := t.State(ctx)
	if err != nil {
		return false, err
	}
	return st.Count < t.max, nil
}

// Remaining returns how many guest messages are left today.
func (t *Tracker) Remaining(ctx context.Context) (int, error) {
	st, err := t.State(ctx)
	if err != nil {
		return 0, err
	}
	if st.Count >= t.max {
		return 0, nil
	}
	return t.max - st.Count, nil
}

// IncrementMessageCount consumes one message from today's allowance.
// When the allowance is spent nothing is written and the error matches
// chatsync.ErrQuotaExceeded.
func (t *Tracker) IncrementMessageCount(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx)
	if err != nil {
		return st, err
	}
	if st.Count >= t.max {
		return st, &chatsync.QuotaError{Max: t.max}
	}

	st.Count++
	data, err := json.Marshal(st)
	if err != nil {
		return st, fmt.Errorf("failed to encode quota: %w", err)
	}
	if err := t.store.SetMeta(ctx, MetaKey, string(data)); err != nil {
		return st, fmt.Errorf("failed to save quota: %w", err)
	}
	return st, nil
}

// load reads the counter, starting a fresh window when the day changed.
func (t *Tracker) load(ctx context.Context) (State, error) {
	today := t.Today()
	fresh := State{WindowStart: today}

	raw, ok, err := t.store.GetMeta(ctx, MetaKey)
	if err != nil {
		return fresh, fmt.Errorf("failed to load quota: %w", err)
	}
	if !ok {
		return fresh, nil
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.logger.Warn("discarding corrupted guest quota", "err", err)
		return fresh, nil
	}
	if st.WindowStart != today {
		return fresh, nil
	}
	if st.Count < 0 {
		st.Count = 0
	}
	return st, nil
}
