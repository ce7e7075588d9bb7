// Package apperr defines the error kinds surfaced by the asset tracker to its callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindNotFound        Kind = "NotFound"
	KindUnauthorized    Kind = "Unauthorized"
	KindBlocked         Kind = "Blocked"
	KindAlreadyOut      Kind = "AlreadyOut"
	KindNoOpenCycle     Kind = "NoOpenCycle"
	KindValidationError Kind = "ValidationError"
	KindConflict        Kind = "Conflict"
	KindInvalidAction   Kind = "InvalidAction"
	KindInternal        Kind = "Internal"
)

// Error is a structured error carrying a Kind and a human-readable message.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, apperr.ErrConflict) works for sentinel comparisons.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons. They match any error of the same kind.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrBlocked       = &Error{Kind: KindBlocked}
	ErrAlreadyOut    = &Error{Kind: KindAlreadyOut}
	ErrNoOpenCycle   = &Error{Kind: KindNoOpenCycle}
	ErrValidation    = &Error{Kind: KindValidationError}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrInvalidAction = &Error{Kind: KindInvalidAction}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func Unauthorized(format string, args ...any) *Error { return New(KindUnauthorized, format, args...) }

func Blocked(format string, args ...any) *Error { return New(KindBlocked, format, args...) }

func AlreadyOut(format string, args ...any) *Error { return New(KindAlreadyOut, format, args...) }

func NoOpenCycle(format string, args ...any) *Error { return New(KindNoOpenCycle, format, args...) }

func Validation(format string, args ...any) *Error {
	return New(KindValidationError, format, args...)
}

func InvalidAction(format string, args ...any) *Error {
	return New(KindInvalidAction, format, args...)
}

// Conflict wraps a contention error. Callers may retry.
func Conflict(err error, format string, args ...any) *Error {
	return Wrap(KindConflict, err, format, args...)
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller should retry the request automatically.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}

// HTTPStatus maps a Kind to the status code used by the HTTP API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindBlocked, KindAlreadyOut, KindNoOpenCycle:
		return http.StatusConflict
	case KindValidationError, KindInvalidAction:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
