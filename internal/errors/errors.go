package errors

import (
	stderrors "errors"
	"fmt"
)

// EngineError is the structured error type for noungraph. It carries enough
// context for the transactional operation framework to decide whether
// to retry, quarantine, or unwind rollbacks, and enough for a caller to
// present a useful message.
type EngineError struct {
	// Code is the unique error code (e.g. "ERR_204_ENDPOINT_MISSING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is one of the taxonomy values in codes.go.
	Kind Kind

	// Component names the subsystem that raised the error (storage, lsm,
	// hnsw, chunkindex, cache, txn, ...).
	Component string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried automatically.
	Retryable bool

	// FailureID is an opaque identifier usable to retrieve full failure
	// context out of band. Only set for Permanent errors.
	FailureID string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, so errors.Is
// works with EngineError.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a key-value detail to the error. Returns the error for
// method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithFailureID attaches an opaque out-of-band failure identifier.
func (e *EngineError) WithFailureID(id string) *EngineError {
	e.FailureID = id
	return e
}

// New creates a new EngineError with the given code, component, and message.
// Kind and retryability are derived from the code.
func New(component, code, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Component: component,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error using its message.
func Wrap(component, code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(component, code, err.Error(), err)
}

// NotFound builds a KindNotFound error.
func NotFound(component, message string) *EngineError {
	return New(component, CodeBlobNotFound, message, nil)
}

// Conflict builds a KindConflict error, e.g. a verb whose endpoints are
// missing, or a concurrent mutation of the same entity.
func Conflict(component, message string) *EngineError {
	return New(component, CodeEndpointMissing, message, nil)
}

// Transient builds a KindTransient error for I/O or timeout conditions that
// the retry helper in retry.go should retry.
func Transient(component, message string, cause error) *EngineError {
	return New(component, CodeAdapterTimeout, message, cause)
}

// Permanent builds a KindPermanent error for corruption or invariant
// violations. Never retried.
func Permanent(component, code, message string, cause error) *EngineError {
	e := New(component, code, message, cause)
	e.Kind = KindPermanent
	e.Retryable = false
	return e
}

// Overloaded builds a KindOverloaded error for queue/rate-limit backpressure.
func Overloaded(component, message string) *EngineError {
	return New(component, CodeOverloaded, message, nil)
}

// Cancelled builds a KindCancelled error for suspension-point aborts.
func Cancelled(component string) *EngineError {
	return New(component, CodeCancelled, "operation cancelled", nil)
}

// IsRetryable reports whether err is an EngineError with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// IsKind reports whether err, or any error in its cause chain, is an
// EngineError of the given Kind. Walking the chain matters because a
// wrapping layer (the transaction framework, a retry helper) may rewrap the
// original error in a new EngineError of its own without preserving Kind
// directly on the outermost value.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Kind == k {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// GetCode extracts the error code from an EngineError, or "" if not one.
func GetCode(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}
