// Package cperr defines the control plane's stable error taxonomy. Every
// terminal failure surfaced to a caller carries one of these kinds so clients
// can decide whether and how to retry.
package cperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	// KindUnknownWorker - heartbeat from a worker that was never registered
	// or has been purged; the worker must re-register.
	KindUnknownWorker Kind = "UnknownWorker"

	// KindNoWorkerAvailable - no healthy worker advertises the requested
	// capability; retryable after backoff.
	KindNoWorkerAvailable Kind = "NoWorkerAvailable"

	// KindSLORejected - capability is over budget and the request was
	// low-priority; retryable after backoff or with elevated priority.
	KindSLORejected Kind = "SLORejected"

	// KindCapabilityAccessDenied - policy denied the request; not retryable
	// without a policy or identity change.
	KindCapabilityAccessDenied Kind = "CapabilityAccessDenied"

	// KindPolicyEngineUnavailable - the policy source was unreachable.
	// Still a denial (fail-closed), distinguished for audit clarity.
	KindPolicyEngineUnavailable Kind = "PolicyEngineUnavailable"

	// KindWorkerInvocationFailed - the downstream worker call failed or
	// timed out; retry policy belongs to the caller.
	KindWorkerInvocationFailed Kind = "WorkerInvocationFailed"

	// KindRequestInFlight - another request holding the same idempotency key
	// is still executing; retry shortly to pick up its result.
	KindRequestInFlight Kind = "RequestInFlight"
)

// Error is a kinded control plane error.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var cpe *Error
	if errors.As(err, &cpe) {
		return cpe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
