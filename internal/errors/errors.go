// Package errors defines the typed error kinds observable across the
// synchronization core, per the propagation policy: transport faults
// disconnect and surface to the user, protocol faults reply inline
// without disconnecting, and timer/logic faults are logged and
// swallowed.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by its propagation policy.
type Kind int

const (
	// KindTransportFatal disconnects the socket and surfaces a
	// disconnect-class message to the user.
	KindTransportFatal Kind = iota
	// KindTransportTransient is logged and otherwise ignored.
	KindTransportTransient
	// KindProtocol is malformed or invalid input; reply inline, never disconnect.
	KindProtocol
	// KindAuthorization is a rejected key.
	KindAuthorization
	// KindResourceLimit is an oversized frame or similar hard limit breach.
	KindResourceLimit
	// KindTimerLogic is a silently-aborted operation (route overflow, revisit, empty candidates).
	KindTimerLogic
)

func (k Kind) String() string {
	switch k {
	case KindTransportFatal:
		return "transport_fatal"
	case KindTransportTransient:
		return "transport_transient"
	case KindProtocol:
		return "protocol"
	case KindAuthorization:
		return "authorization"
	case KindResourceLimit:
		return "resource_limit"
	case KindTimerLogic:
		return "timer_logic"
	default:
		return "unknown"
	}
}

// CoreError is the error type returned across package boundaries in this module.
type CoreError struct {
	Kind       Kind
	Message    string
	underlying error
}

func (e *CoreError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.underlying
}

// Disconnect reports whether this error should cause the caller to
// tear down its connection/tracking state (spec.md §7).
func (e *CoreError) Disconnect() bool {
	return e.Kind == KindTransportFatal || e.Kind == KindResourceLimit
}

// HTTPStatus maps the error kind to an HTTP status for the parts of the
// system that surface over HTTP (the authoritative server's /connect
// upgrade path and /state endpoint).
func (e *CoreError) HTTPStatus() int {
	switch e.Kind {
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindResourceLimit:
		return http.StatusRequestEntityTooLarge
	case KindProtocol:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind with no underlying cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap attaches an underlying cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, underlying: cause}
}

// AsCoreError reports whether err is (or wraps) a *CoreError.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	ok := stderrors.As(err, &ce)
	return ce, ok
}

// UserMessage formats a downstream Error for the user-facing message
// queue, per spec.md §7: "server: ICAO: <msg or 'error'>".
func UserMessage(icao, msg string) string {
	if msg == "" {
		msg = "error"
	}
	return fmt.Sprintf("server: %s: %s", icao, msg)
}
