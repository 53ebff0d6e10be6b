package hybrid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creastat/chatsync"
)

// Unlimited is reported by RemainingGuestMessages for signed-in users.
const Unlimited = -1

// SendMessage records a user message in the current session.
//
// Guests consume one unit of the daily quota first; when it is spent the
// returned error matches chatsync.ErrQuotaExceeded and nothing is written.
// The only other errors are local store failures.
func (s *Synchronizer) SendMessage(ctx context.Context, text string) (chatsync.ChatMessage, error) {
	return s.record(ctx, chatsync.SenderUser, text)
}

// AddAssistantMessage records a reply in the current session. Replies do not
// count against the guest quota.
func (s *Synchronizer) AddAssistantMessage(ctx context.Context, text string) (chatsync.ChatMessage, error) {
	return s.record(ctx, chatsync.SenderAssistant, text)
}

func (s *Synchronizer) record(ctx context.Context, sender chatsync.Sender, text string) (chatsync.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return chatsync.ChatMessage{}, chatsync.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chatsync.ChatMessage{}, ErrClosed
	}

	guest := sender == chatsync.SenderUser && !s.auth.IsAuthenticated()
	if guest {
		ok, err := s.quota.CanSendMessage(ctx)
		if err != nil {
			return chatsync.ChatMessage{}, err
		}
		if !ok {
			return chatsync.ChatMessage{}, &chatsync.QuotaError{Max: s.quota.Max()}
		}
	}

	now := s.now()
	session, err := s.currentForWrite(ctx, now)
	if err != nil {
		return chatsync.ChatMessage{}, err
	}

	msg := chatsync.NewMessage(sender, text, now)
	session.Append(msg)
	if err := s.local.Put(ctx, session); err != nil {
		return chatsync.ChatMessage{}, fmt.Errorf("failed to save message: %w", err)
	}
	if guest {
		// The message is stored; only the counter is off by one.
		if _, err := s.quota.IncrementMessageCount(ctx); err != nil {
			s.logger.Warn("failed to count guest message", "err", err)
		}
	}
	s.currentID = session.ID
	s.currentDate = session.Date

	s.enqueueUpsert(session)
	return msg, nil
}

// currentForWrite returns the session new messages go to. Messages always
// belong to today: when the selected session is from another day a new one
// is started. Callers hold mu.
func (s *Synchronizer) currentForWrite(ctx context.Context, now time.Time) (*chatsync.ChatSession, error) {
	today := chatsync.DateKey(now.In(s.cfg.Location))

	if s.currentID != "" {
		session, err := s.local.Get(ctx, s.currentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if session != nil && session.Date == today {
			return session, nil
		}
	}

	return &chatsync.ChatSession{
		ID:        uuid.NewString(),
		Date:      today,
		Messages:  []chatsync.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// StartNewSession ends the current session. The next message opens a new
// session for today.
func (s *Synchronizer) StartNewSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = ""
	s.currentDate = s.today()
}

// SwitchDay selects date and makes its latest session current.
func (s *Synchronizer) SwitchDay(ctx context.Context, date string) error {
	if !chatsync.ValidDate(date) {
		return fmt.Errorf("%w: %q", chatsync.ErrInvalidDate, date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.local.ListSessionsForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	s.currentDate = date
	s.currentID = ""
	if n := len(sessions); n > 0 {
		s.currentID = sessions[n-1].ID
	}
	return nil
}

// CurrentDate returns the selected day.
func (s *Synchronizer) CurrentDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDate
}

// CurrentSession returns a copy of the current session, or nil when the next
// message will open a new one.
func (s *Synchronizer) CurrentSession(ctx context.Context) (*chatsync.ChatSession, error) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()

	if id == "" {
		return nil, nil
	}
	session, err := s.local.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Dates returns every day with stored sessions, ascending.
func (s *Synchronizer) Dates(ctx context.Context) ([]string, error) {
	dates, err := s.local.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dates: %w", err)
	}
	return dates, nil
}

// SessionsForDate returns the sessions of date in creation order.
func (s *Synchronizer) SessionsForDate(ctx context.Context, date string) ([]*chatsync.ChatSession, error) {
	if !chatsync.ValidDate(date) {
		return nil, fmt.Errorf("%w: %q", chatsync.ErrInvalidDate, date)
	}
	sessions, err := s.local.ListSessionsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// History returns the per-day view of date.
func (s *Synchronizer) History(ctx context.Context, date string) (chatsync.ChatHistory, error) {
	sessions, err := s.SessionsForDate(ctx, date)
	if err != nil {
		return chatsync.ChatHistory{}, err
	}
	return chatsync.HistoryOf(date, sessions), nil
}

// ContextWindow returns the most recent messages of the current session that
// fit the configured limits.
func (s *Synchronizer) ContextWindow(ctx context.Context) ([]chatsync.ChatMessage, error) {
	session, err := s.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return []chatsync.ChatMessage{}, nil
	}
	return chatsync.ContextWindow(session.Messages, s.cfg.ContextTokenLimit, s.cfg.ContextMessageLimit), nil
}

// DeleteSession removes a session locally, then mirrors the deletion
// remotely when possible. A missing session is not an error.
func (s *Synchronizer) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.deleteLocked(ctx, id)
}

// DeleteDay removes every session of date.
func (s *Synchronizer) DeleteDay(ctx context.Context, date string) (int, error) {
	if !chatsync.ValidDate(date) {
		return 0, fmt.Errorf("%w: %q", chatsync.ErrInvalidDate, date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	sessions, err := s.local.ListSessionsForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i, session := range sessions {
		if err := s.deleteLocked(ctx, session.ID); err != nil {
			return i, err
		}
	}
	return len(sessions), nil
}

func (s *Synchronizer) deleteLocked(ctx context.Context, id string) error {
	if err := s.markDeleted(ctx, id); err != nil {
		return err
	}
	if err := s.local.Delete(ctx, id); err != nil {
		s.clearTombstone(ctx, id)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.currentID == id {
		s.currentID = ""
	}
	s.enqueueDelete(id)
	return nil
}

// RemainingGuestMessages returns today's guest allowance, or Unlimited when
// a user is signed in.
func (s *Synchronizer) RemainingGuestMessages(ctx context.Context) (int, error) {
	if s.auth.IsAuthenticated() {
		return Unlimited, nil
	}
	return s.quota.Remaining(ctx)
}
