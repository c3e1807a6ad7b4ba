// Package apperr defines the typed error taxonomy shared by every
// subsystem, so the HTTP layer can map an error to a status code and a
// response hint without string-matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way the HTTP layer needs to see it.
type Kind string

const (
	KindInvalidRequest Kind = "InvalidRequest"
	KindUnauthorized   Kind = "Unauthorized"
	KindForbidden      Kind = "Forbidden"
	KindNotFound       Kind = "NotFound"
	KindConflict       Kind = "Conflict"
	KindQuotaExceeded  Kind = "QuotaExceeded"
	KindRateLimited    Kind = "RateLimited"
	KindTransport      Kind = "TransportError"
	KindInternal       Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindInvalidRequest: http.StatusBadRequest,
	KindUnauthorized:   http.StatusUnauthorized,
	KindForbidden:      http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindConflict:       http.StatusConflict,
	KindQuotaExceeded:  http.StatusBadRequest,
	KindRateLimited:    http.StatusTooManyRequests,
	KindTransport:      http.StatusBadGateway,
	KindInternal:       http.StatusInternalServerError,
}

// Error is the error type returned across every package boundary in this
// module. It wraps an underlying cause (for logging) while exposing a Kind
// and optional response hints for the HTTP layer.
type Error struct {
	Kind    Kind
	Message string
	Hints   map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying cause, preserving it for
// errors.Is/As and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithHint attaches a response hint (e.g. needsUpgrade, Retry-After) and
// returns the same error for chaining.
func (e *Error) WithHint(key string, value any) *Error {
	if e.Hints == nil {
		e.Hints = map[string]any{}
	}
	e.Hints[key] = value
	return e
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
