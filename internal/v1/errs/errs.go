// Package errs defines the error kinds carried through the chat core and
// their mapping onto HTTP status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation decisions: HTTP status in the
// REST path, toast-vs-terminate in the socket path.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindUnauthorized
	KindTokenExpired
	KindForbidden
	KindUniqueConstraint
	KindFriendStatus
	KindBadRequest
	KindStore
	KindCache
	KindIO
	KindSerialize
	KindSend
)

// Error is the app-wide error type. Msg is safe to show to users; Err
// keeps the underlying cause for logs.
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

// New creates an Error with the given kind and user-facing message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a cause to a new Error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Common instances reused across handlers.
var (
	ErrNotFound     = New(KindNotFound, "Resource not found")
	ErrUnauthorized = New(KindUnauthorized, "Authentication required")
	ErrTokenExpired = New(KindTokenExpired, "Token is expired")
	ErrForbidden    = New(KindForbidden, "You don't have permission to access")
	ErrNotInRoom    = New(KindForbidden, "You are not in this room")
	ErrFriendStatus = New(KindFriendStatus, "Illegal friendship state")
	ErrBadRequest   = New(KindBadRequest, "Malformed request")
	ErrUserNotExist = New(KindValidation, "The user doesn't exist")
	ErrWrongPass    = New(KindValidation, "The password doesn't match")
)

// Validation builds a validation error with a field-level message.
func Validation(msg string) *Error { return New(KindValidation, msg) }

// UniqueConstraint reports a duplicate value on a named column.
func UniqueConstraint(name string) *Error {
	return New(KindUniqueConstraint, fmt.Sprintf("Duplicate value on %s", name))
}

// StoreFailure wraps a database error.
func StoreFailure(err error) *Error {
	return Wrap(KindStore, "Database error while collecting results", err)
}

// CacheFailure wraps a redis error.
func CacheFailure(err error) *Error {
	return Wrap(KindCache, "Cache error while collecting results", err)
}

// SerializeFailure wraps a JSON encoding error. Fatal on the socket path.
func SerializeFailure(err error) *Error {
	return Wrap(KindSerialize, "Failed to serialize message", err)
}

// SendFailure reports a closed client queue. Fatal on the socket path.
func SendFailure(err error) *Error {
	return Wrap(KindSend, "Failed to send message", err)
}

// KindOf extracts the Kind from any error chain; unknown errors are
// treated as store failures (internal).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Message returns the user-facing message for an error chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Server internal error"
}

// IsFatal reports whether the socket session must terminate instead of
// replying with a toast.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindSend, KindSerialize:
		return true
	}
	return false
}

// HTTPStatus maps an error chain to the REST status code. StatusNonAuthoritativeInfo
// (203) is the sentinel the frontend reads as "please refresh the token".
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindTokenExpired:
		return http.StatusNonAuthoritativeInfo
	case KindValidation, KindBadRequest, KindUniqueConstraint, KindFriendStatus:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
