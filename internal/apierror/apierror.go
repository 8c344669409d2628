// Package apierror names the error kinds used throughout the core so
// callers at the WebSocket and REST boundaries can classify a failure
// without string-matching messages.
package apierror

import "errors"

// Kind is one of the named error categories from the error handling
// design: each carries its own propagation policy at the call site.
type Kind string

const (
	KindProtocol         Kind = "protocol_error"
	KindResourceExhausted Kind = "resource_exhausted"
	KindSFUFailure       Kind = "sfu_failure"
	KindModelMissing     Kind = "model_missing"
	KindAdapterFatal     Kind = "adapter_fatal"
	KindEmbeddingFailure Kind = "embedding_failure"
	KindSinkFailure      Kind = "sink_failure"
	KindAuthFailure      Kind = "auth_failure"
	KindConflict         Kind = "conflict"
)

// Error wraps an underlying cause with a Kind so the boundary layer can map
// it to a WebSocket protocol-error frame or an HTTP status code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, returning
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
