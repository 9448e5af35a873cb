// Package apperr defines the typed failure taxonomy returned by the ingestion
// pipeline. Errors are built where the failure is detected and travel
// unmodified to the transport boundary, which serializes them as-is.
package apperr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is a stable failure category. Its string form is the wire "type".
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindAI         Kind = "ai_error"
	KindModeration Kind = "moderation_error"
	KindDuplicate  Kind = "duplicate_error"
	KindSource     Kind = "source_error"
	KindRateLimit  Kind = "rate_limit_error"
	KindAuth       Kind = "auth_error"
	KindInternal   Kind = "internal_error"
)

// StatusCode returns the HTTP status associated with the kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAI:
		return http.StatusBadGateway
	case KindModeration, KindSource:
		return http.StatusUnprocessableEntity
	case KindDuplicate:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is an ingestion failure with a taxonomy kind.
type Error struct {
	Kind      Kind           `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status for the error's kind.
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// Cause returns the underlying error, if any.
func (e *Error) Cause() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap builds an Error of the given kind that carries cause.
func Wrap(kind Kind, cause error, message string, details map[string]any) *Error {
	e := New(kind, message, details)
	e.cause = cause
	return e
}

func Validation(message string, details map[string]any) *Error {
	return New(KindValidation, message, details)
}

func AI(cause error, message string, details map[string]any) *Error {
	return Wrap(KindAI, cause, message, details)
}

func Moderation(message string, details map[string]any) *Error {
	return New(KindModeration, message, details)
}

func Duplicate(message string, details map[string]any) *Error {
	return New(KindDuplicate, message, details)
}

func Source(message string, details map[string]any) *Error {
	return New(KindSource, message, details)
}

func RateLimit(message string, details map[string]any) *Error {
	return New(KindRateLimit, message, details)
}

func Auth(message string) *Error {
	return New(KindAuth, message, nil)
}

func Internal(cause error, message string) *Error {
	return Wrap(KindInternal, cause, message, nil)
}
