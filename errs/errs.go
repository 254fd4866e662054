// Package errs defines the error-kind taxonomy shared across the engine.
//
// Every subsystem returns errors wrapped in *errs.Error so that callers can
// switch on Kind without parsing messages, while errors.Is/errors.As still
// compose through Unwrap across layers, matching the component/operation
// wrapped-error idiom used throughout the engine.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags the taxonomy of errors the engine distinguishes between.
type Kind string

const (
	KindTransportFailure     Kind = "transport-failure"
	KindProviderReportedErr  Kind = "provider-reported-error"
	KindTimeout              Kind = "timeout"
	KindCancelled            Kind = "cancelled"
	KindMalformedResponse    Kind = "malformed-response"
	KindPolicyViolation      Kind = "policy-violation"
	KindUnknownTool          Kind = "unknown-tool"
	KindUnknownProvider      Kind = "unknown-provider"
	KindInvalidWorkflow      Kind = "invalid-workflow"
	KindConfigurationError   Kind = "configuration-error"
)

// Error is the common wrapped-error shape: component, operation, a
// human-readable message, the error-kind tag, and an optional cause.
type Error struct {
	Component string
	Operation string
	Kind      Kind
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s (%s): %v", e.Component, e.Operation, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s (%s)", e.Component, e.Operation, e.Message, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error tagged with a kind.
func New(component, operation string, kind Kind, message string, cause error) *Error {
	return &Error{Component: component, Operation: operation, Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind from an error if it (or something it wraps) is
// an *Error; returns "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
