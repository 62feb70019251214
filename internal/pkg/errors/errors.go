// Package errors carries the gateway's semantic error kinds. Components
// raise kinds; only the ingress layer translates them to HTTP statuses.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independent of transport.
type Kind string

const (
	KindAuthMissing              Kind = "auth_missing"
	KindAuthRejected             Kind = "auth_rejected"
	KindNoEligibleAccount        Kind = "no_eligible_account"
	KindCredentialMissing        Kind = "credential_missing"
	KindCredentialInvalid        Kind = "credential_invalid"
	KindCredentialRefreshTimeout Kind = "credential_refresh_timeout"
	KindBackendUnavailable       Kind = "backend_unavailable"
	KindUpstreamConnect          Kind = "upstream_connect"
	KindUpstreamTimeout          Kind = "upstream_timeout"
	KindInternal                 Kind = "internal"
)

// Error pairs a kind with a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the semantic message of err, or "" for unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
