package local

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/creastat/chatsync"
)

// MemoryStore implements Store with in-process maps.
// Sessions are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*chatsync.ChatSession
	meta     map[string]string
	closed   bool
	logger   *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions: make(map[string]*chatsync.ChatSession),
		meta:     make(map[string]string),
		logger:   logger,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*chatsync.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return data.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, session *chatsync.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.sessions[session.ID] = session.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	delete(s.sessions, id)
	return nil
}

// ListDates implements Store.
func (s *MemoryStore) ListDates(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	dates := []string{}
	for _, sess := range s.sessions {
		if _, ok := seen[sess.Date]; ok {
			continue
		}
		seen[sess.Date] = struct{}{}
		dates = append(dates, sess.Date)
	}
	sort.Strings(dates)
	return dates, nil
}

// ListSessionsForDate implements Store.
func (s *MemoryStore) ListSessionsForDate(ctx context.Context, date string) ([]*chatsync.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := []*chatsync.ChatSession{}
	for _, sess := range s.sessions {
		if sess.Date == date {
			out = append(out, sess.Clone())
		}
	}
	sortSessions(out)
	return out, nil
}

// GetMeta implements Store.
func (s *MemoryStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}

	v, ok := s.meta[key]
	return v, ok, nil
}

// SetMeta implements Store.
func (s *MemoryStore) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.meta[key] = value
	return nil
}

// DeleteMeta implements Store.
func (s *MemoryStore) DeleteMeta(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	delete(s.meta, key)
	return nil
}

// ListMeta implements Store.
func (s *MemoryStore) ListMeta(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string]string)
	for k, v := range s.meta {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.sessions = nil
	s.meta = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
