// Package apperrors defines the named error kinds the orchestrator branches
// on, replacing exception-for-control-flow with explicit, typed values.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind names one of the error families the orchestrator's HTTP and
// publication surfaces need to distinguish.
type Kind string

const (
	WebhookAuth        Kind = "webhook_auth"
	BadWebhookRequest  Kind = "bad_webhook_request"
	MissingConfig      Kind = "missing_config"
	ProviderCall       Kind = "provider_call"
	PublishFailure     Kind = "publish_failure"
	ShutdownRequested  Kind = "shutdown_requested"
	Internal           Kind = "internal"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without parsing message strings.
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

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err is
// not a classified *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
