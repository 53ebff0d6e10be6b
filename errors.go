package chatsync

import (
	"errors"
	"fmt"
)

// Common errors for chat history operations.
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrNotFound        = errors.New("session not found")
	ErrMigrationFailed = errors.New("legacy history migration failed")
)

// ErrQuotaExceeded matches any *QuotaError via errors.Is.
var ErrQuotaExceeded = &QuotaError{}

// QuotaError is the notice shown to a guest whose daily allowance is spent.
// It is a user-facing rejection, not a system fault.
type QuotaError struct {
	Max int
}

func (e *QuotaError) Error() string {
	if e.Max <= 0 {
		return "daily guest message limit reached, sign in to keep chatting"
	}
	return fmt.Sprintf("daily guest message limit reached (%d per day), sign in to keep chatting", e.Max)
}

// Is reports any *QuotaError as ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	_, ok := target.(*QuotaError)
	return ok
}
