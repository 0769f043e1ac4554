// Package autherr defines the failure taxonomy shared by the credential
// store, token manager, exchange client and diagnostics.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind string

const (
	// MalformedResponse means the exchange endpoint returned an unusable payload.
	MalformedResponse Kind = "malformed_response"
	// PersistenceFailure means a storage read or write failed.
	PersistenceFailure Kind = "persistence_failure"
	// NetworkFailure means an exchange call could not complete.
	NetworkFailure Kind = "network_failure"
	// ExchangeRejected means the endpoint answered with a non-success payload.
	ExchangeRejected Kind = "exchange_rejected"
	// StateMismatch means the returned correlation state did not match the
	// expected one. Advisory only: callers log it and continue.
	StateMismatch Kind = "state_mismatch"
	// ConfigurationError means required configuration is missing or invalid.
	ConfigurationError Kind = "configuration_error"
)

// Error is a classified authentication error.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error with additional context.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// WithDetails attaches free-form details (typically the endpoint's message).
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithStatusCode attaches the HTTP status that produced the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// IsKind reports whether err (or anything it wraps) is a classified error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or the empty Kind when err is not
// classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// EndpointMessage extracts the message the exchange endpoint attached to a
// rejection, falling back to the supplied default.
func EndpointMessage(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == ExchangeRejected && ae.Details != "" {
		return ae.Details
	}
	return fallback
}
