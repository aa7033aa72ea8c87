package perception

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed model call so callers can pick the right
// user-facing apology without string matching.
type ErrorKind string

const (
	KindMissingCredential ErrorKind = "missing_credential"
	KindConnectivity      ErrorKind = "connectivity"
	KindProvider          ErrorKind = "provider"
	KindMalformedOutput   ErrorKind = "malformed_output"
	KindTimeout           ErrorKind = "timeout"
)

// CallError wraps a provider failure with its classification and, when the
// provider answered at all, the HTTP status.
type CallError struct {
	Kind    ErrorKind
	Message string
	Status  int
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewCallError builds a CallError without a status code.
func NewCallError(kind ErrorKind, format string, args ...interface{}) *CallError {
	return &CallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err, mapping context and network
// errors that escaped without wrapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}
	return KindProvider
}

// classifyTransport maps a transport-level error from http.Client.Do.
func classifyTransport(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Message: err.Error()}
	}
	return &CallError{Kind: KindConnectivity, Message: err.Error()}
}
