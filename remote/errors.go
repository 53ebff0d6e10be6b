package remote

import (
	"context"
	"errors"
	"net"
)

// Kind classifies a remote failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindNotFound
	KindThrottled
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	case KindThrottled:
		return "throttled"
	case KindUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Sentinels matching any *Error of the same kind through errors.Is.
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrThrottled    = &Error{Kind: KindThrottled}
	ErrUnreachable  = &Error{Kind: KindUnreachable}
)

// Error is a classified remote failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// NewError wraps err with an operation name and kind.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := "remote"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of err. Context deadlines and network errors count
// as unreachable; anything unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnreachable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindUnreachable
	}
	return KindUnknown
}

// Classify wraps err as an *Error, keeping an existing classification.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return NewError(op, KindOf(err), err)
}

// Retryable reports whether a single retry may help.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindThrottled, KindUnreachable:
		return true
	default:
		return false
	}
}
