package edgevec

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers and transport layers.
//
// Kinds map one-to-one onto the HTTP statuses the server layer emits.
type Kind string

const (
	// KindInvalidArgument marks schema, range, finiteness, or dimension
	// violations. Non-retryable.
	KindInvalidArgument Kind = "invalid_argument"
	// KindNotFound marks a missing collection or point.
	KindNotFound Kind = "not_found"
	// KindConflict marks a collection create collision.
	KindConflict Kind = "conflict"
	// KindResourceExhausted marks memory budget, concurrency gate, or
	// capacity cap rejections.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindTimeout marks a request that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindUnavailable marks a failed readiness gate.
	KindUnavailable Kind = "unavailable"
	// KindInternal marks invariant violations and unrecoverable storage
	// failures.
	KindInternal Kind = "internal"
)

// Error is the engine's error type. It carries a Kind and a short
// human-readable message; transport layers must not expose anything else.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// ErrInvalidArgument constructs an invalid_argument error.
func ErrInvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, nil, format, args...)
}

// ErrNotFound constructs a not_found error.
func ErrNotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// ErrConflict constructs a conflict error.
func ErrConflict(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

// ErrResourceExhausted constructs a resource_exhausted error.
func ErrResourceExhausted(format string, args ...any) *Error {
	return newError(KindResourceExhausted, nil, format, args...)
}

// ErrTimeout constructs a timeout error.
func ErrTimeout(format string, args ...any) *Error {
	return newError(KindTimeout, nil, format, args...)
}

// ErrUnavailable constructs an unavailable error.
func ErrUnavailable(format string, args ...any) *Error {
	return newError(KindUnavailable, nil, format, args...)
}

// ErrInternal constructs an internal error wrapping cause.
func ErrInternal(cause error, format string, args ...any) *Error {
	return newError(KindInternal, cause, format, args...)
}

// KindOf extracts the Kind from err. Context deadline and cancellation errors
// report KindTimeout; anything unclassified reports KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
