// Package apperr tags errors with the kind that drives handling policy:
// invalid input is surfaced and never retried, transient infrastructure
// failures are retried with backoff, not-found and state conflicts map to
// explicit caller-facing signals.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	}
	return "internal"
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid marks a terminal input/validation error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

// NotFound marks a missing photo or job.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflict marks an operation against a job already in a terminal state.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps a retryable infrastructure failure.
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried. Unknown errors from
// infrastructure boundaries count as transient; only explicitly terminal
// kinds do not.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindInvalid, KindNotFound, KindConflict:
		return false
	}
	return true
}
