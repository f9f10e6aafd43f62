// Package errs defines the error taxonomy shared by the dispatcher, workers,
// and HTTP surface, per the error-handling design: validation, authorization,
// rate-limiting, transient infrastructure, permanent processing, and
// consistency-violation assertions are distinct kinds with distinct
// propagation rules.
package errs

import (
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and response-code purposes.
type Kind string

const (
	Validation   Kind = "validation"
	Authorization Kind = "authorization"
	RateLimited  Kind = "rate_limited"
	Transient    Kind = "transient"
	Permanent    Kind = "permanent"
	Consistency  Kind = "consistency"
)

// Error wraps an underlying cause with a classification.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether a job that hit this error should be retried with
// backoff rather than dead-lettered immediately.
func (e *Error) Retryable() bool { return e.Kind == Transient }

// New constructs a classified error.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// HTTPStatus maps a Kind to the status code used by the HTTP surface.
func HTTPStatus(k Kind) int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Authorization:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case Transient:
		return http.StatusServiceUnavailable
	case Consistency:
		return http.StatusInternalServerError
	case Permanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// As extracts the classified error, if any, from a wrapped error chain.
func As(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
