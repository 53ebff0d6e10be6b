package chatsync

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// DateLayout is the day-bucket key format.
const DateLayout = "2006-01-02"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// ChatMessage is a single conversation turn. Immutable once created.
type ChatMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     Sender    `json:"sender"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count,omitempty"`
}

// NewMessage builds a message stamped at now with a timestamp-derived ID.
func NewMessage(sender Sender, text string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:         MessageID(now),
		Text:       text,
		Sender:     sender,
		Timestamp:  now,
		TokenCount: EstimateTokens(text),
	}
}

// MessageID returns an ID that sorts by creation time for messages created
// in different nanoseconds; the random suffix separates collisions.
func MessageID(now time.Time) string {
	return fmt.Sprintf("%019d-%04x", now.UnixNano(), rand.IntN(0x10000))
}

// ChatSession is a sequence of messages owned by exactly one day bucket.
//
// Messages are append-only while the session is active. Version increases on
// every mutation and UpdatedAt is the last-write-wins key between copies.
type ChatSession struct {
	ID        string        `json:"id"`
	Date      string        `json:"date"`
	Messages  []ChatMessage `json:"messages"`
	Summary   string        `json:"summary,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

// Append adds a message and bumps Version and UpdatedAt.
func (s *ChatSession) Append(msg ChatMessage) {
	s.Messages = append(s.Messages, msg)
	s.Version++
	if msg.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = msg.Timestamp
	} else {
		s.UpdatedAt = s.UpdatedAt.Add(time.Nanosecond)
	}
}

// Clone returns a deep copy so stores never share message slices with callers.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Messages != nil {
		c.Messages = make([]ChatMessage, len(s.Messages))
		copy(c.Messages, s.Messages)
	}
	return &c
}

// NewerThan reports whether s should win over other under last-write-wins.
// Ties are broken by Version so a copy with more appends survives.
func (s *ChatSession) NewerThan(other *ChatSession) bool {
	if other == nil {
		return true
	}
	if !s.UpdatedAt.Equal(other.UpdatedAt) {
		return s.UpdatedAt.After(other.UpdatedAt)
	}
	return s.Version > other.Version
}

// ChatHistory is the per-day compatibility view, derived from the first
// session of a day. It is also the legacy on-device format.
type ChatHistory struct {
	Date     string        `json:"date"`
	Messages []ChatMessage `json:"messages"`
	Summary  string        `json:"summary,omitempty"`
}

// HistoryOf projects the first of a day's sessions into a ChatHistory.
// sessions must already be ordered.
func HistoryOf(date string, sessions []*ChatSession) ChatHistory {
	h := ChatHistory{Date: date, Messages: []ChatMessage{}}
	if len(sessions) == 0 || sessions[0] == nil {
		return h
	}
	first := sessions[0]
	h.Messages = append(h.Messages, first.Messages...)
	h.Summary = first.Summary
	return h
}

// DateKey returns the day bucket for t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidDate reports whether date is a well-formed YYYY-MM-DD key.
func ValidDate(date string) bool {
	if len(date) != len(DateLayout) || strings.TrimSpace(date) != date {
		return false
	}
	_, err := time.Parse(DateLayout, date)
	return err == nil
}
