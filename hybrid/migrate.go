package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/creastat/chatsync"
)

const (
	// LegacyPrefix prefixes meta keys holding pre-session day histories.
	LegacyPrefix = "history:"

	// MigrationMarker records that legacy histories were converted.
	MigrationMarker = "migration:sessions:v1"
)

// LegacyKey returns the meta key of a legacy day history.
func LegacyKey(date string) string {
	return LegacyPrefix + date
}

// LegacySessionID is the deterministic ID a migrated day receives.
func LegacySessionID(date string) string {
	return "legacy-" + date
}

// Migrate converts legacy day histories into sessions exactly once and
// returns the number of sessions written.
//
// Every legacy record is parsed before anything is written; one bad record
// aborts the whole run with chatsync.ErrMigrationFailed. Legacy records are
// never deleted. Once the marker is set further runs write nothing.
func (s *Synchronizer) Migrate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done, err := s.local.GetMeta(ctx, MigrationMarker); err != nil {
		return 0, fmt.Errorf("%w: read marker: %w", chatsync.ErrMigrationFailed, err)
	} else if done {
		return 0, nil
	}

	records, err := s.local.ListMeta(ctx, LegacyPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: list legacy records: %w", chatsync.ErrMigrationFailed, err)
	}

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sessions := make([]*chatsync.ChatSession, 0, len(keys))
	for _, key := range keys {
		session, err := s.parseLegacy(key, records[key])
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", chatsync.ErrMigrationFailed, key, err)
		}
		sessions = append(sessions, session)
	}

	written := 0
	for _, session := range sessions {
		existing, err := s.local.Get(ctx, session.ID)
		if err != nil {
			return written, fmt.Errorf("%w: %w", chatsync.ErrMigrationFailed, err)
		}
		if existing != nil {
			continue
		}
		if err := s.local.Put(ctx, session); err != nil {
			return written, fmt.Errorf("%w: %w", chatsync.ErrMigrationFailed, err)
		}
		written++
	}

	if err := s.local.SetMeta(ctx, MigrationMarker, s.now().UTC().Format(time.RFC3339)); err != nil {
		return written, fmt.Errorf("%w: write marker: %w", chatsync.ErrMigrationFailed, err)
	}
	if len(keys) > 0 {
		s.logger.Info("migrated legacy history", "records", len(keys), "written", written)
	}
	return written, nil
}

func (s *Synchronizer) parseLegacy(key, raw string) (*chatsync.ChatSession, error) {
	date := strings.TrimPrefix(key, LegacyPrefix)
	if !chatsync.ValidDate(date) {
		return nil, chatsync.ErrInvalidDate
	}

	var h chatsync.ChatHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, err
	}
	if h.Date != "" && h.Date != date {
		return nil, fmt.Errorf("record date %q does not match key", h.Date)
	}

	day, _ := time.ParseInLocation(chatsync.DateLayout, date, s.cfg.Location)
	session := &chatsync.ChatSession{
		ID:        LegacySessionID(date),
		Date:      date,
		Messages:  make([]chatsync.ChatMessage, 0, len(h.Messages)),
		Summary:   h.Summary,
		CreatedAt: day,
		UpdatedAt: day,
	}
	for i, m := range h.Messages {
		if !m.Sender.Valid() {
			return nil, fmt.Errorf("message %d: unknown sender %q", i, m.Sender)
		}
		if m.ID == "" {
			m.ID = fmt.Sprintf("%s-%04d", session.ID, i)
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = day
		}
		if m.TokenCount == 0 {
			m.TokenCount = chatsync.EstimateTokens(m.Text)
		}
		session.Messages = append(session.Messages, m)
	}
	if n := len(session.Messages); n > 0 {
		session.CreatedAt = session.Messages[0].Timestamp
		session.UpdatedAt = session.Messages[n-1].Timestamp
		if session.UpdatedAt.Before(session.CreatedAt) {
			session.UpdatedAt = session.CreatedAt
		}
	}
	session.Version = int64(len(session.Messages))
	return session, nil
}
