package remote

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/creastat/chatsync"
)

// MemoryStore is an in-process document store. It backs the CLI's "memory"
// remote driver and lets tests inject outages.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]*chatsync.ChatSession
	healthy  bool
	initErr  error
	failures map[string][]error
	delay    time.Duration
	calls    map[string]int
}

// NewMemoryStore creates a healthy, empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]*chatsync.ChatSession),
		healthy:  true,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetHealthy controls the HealthCheck result.
func (m *MemoryStore) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetInitError makes Initialize fail with err until reset with nil.
func (m *MemoryStore) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// FailNext queues err for the next call of op ("upsert", "delete", "list").
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// SetDelay makes every call wait d or until its context ends.
func (m *MemoryStore) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls reports how many times op was attempted.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Get returns a stored session copy, for assertions.
func (m *MemoryStore) Get(userID, sessionID string) *chatsync.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[userID][sessionID].Clone()
}

// Initialize implements Store.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	if err := m.enter(ctx, "initialize"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return Classify("initialize", m.initErr)
	}
	return nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error {
	if err := m.enter(ctx, "upsert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if userID == "" {
		return NewError("upsert", KindUnauthorized, errors.New("missing user"))
	}
	docs, ok := m.docs[userID]
	if !ok {
		docs = make(map[string]*chatsync.ChatSession)
		m.docs[userID] = docs
	}
	if stored, ok := docs[session.ID]; ok && stored.NewerThan(session) {
		return nil
	}
	docs[session.ID] = session.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := m.enter(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[userID], sessionID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error) {
	if err := m.enter(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*chatsync.ChatSession, 0, len(m.docs[userID]))
	for _, s := range m.docs[userID] {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HealthCheck implements Store.
func (m *MemoryStore) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	if err := m.enter(ctx, "health"); err != nil {
		return Health{CheckedAt: start, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{Reachable: m.healthy, Latency: time.Since(start), CheckedAt: start}
	if !m.healthy {
		h.Err = NewError("health", KindUnreachable, errors.New("store marked unhealthy"))
	}
	return h
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// enter records the call, applies the delay and pops a queued failure.
func (m *MemoryStore) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	delay := m.delay
	var injected error
	if q := m.failures[op]; len(q) > 0 {
		injected, m.failures[op] = q[0], q[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return NewError(op, KindUnreachable, ctx.Err())
		}
	}
	if injected != nil {
		return Classify(op, injected)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
