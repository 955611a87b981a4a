package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/asyncstore/internal/ir"
)

// RuntimeError represents a failure observed while resolving an operation.
//
// Runtime errors include:
//   - Backend failure: the backend completed with success=false
//   - Decode failure: a completion or binary payload could not be decoded
//   - Timeout: no completion arrived within the configured bound
//   - Queue full / closed: the operation was never accepted
//
// Continuations receive a RuntimeError next to the reduced value, so callers
// that only look at the value still see false / "" / nil on failure.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description. For backend failures this is
	// the backend's own error text.
	Message string

	// ID is the correlation id of the affected operation, if any.
	ID ir.CorrelationID

	// Op is the affected operation kind, if known.
	Op ir.Op

	// Err is the underlying cause (optional).
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeBackendFailure indicates the backend reported success=false with a description.
	ErrCodeBackendFailure RuntimeErrorCode = "BACKEND_FAILURE"

	// ErrCodeDecodeFailed indicates a malformed completion record or binary payload.
	ErrCodeDecodeFailed RuntimeErrorCode = "DECODE_FAILED"

	// ErrCodeTimeout indicates no completion arrived within the completion timeout.
	ErrCodeTimeout RuntimeErrorCode = "COMPLETION_TIMEOUT"

	// ErrCodeQueueFull indicates the pending queue reached its capacity.
	ErrCodeQueueFull RuntimeErrorCode = "QUEUE_FULL"

	// ErrCodeClosed indicates the engine no longer accepts work.
	ErrCodeClosed RuntimeErrorCode = "ENGINE_CLOSED"

	// ErrCodeDispatchFailed indicates the dispatch action itself returned an error.
	ErrCodeDispatchFailed RuntimeErrorCode = "DISPATCH_FAILED"

	// ErrCodeUnknownID indicates a completion for an id with no live pending call.
	ErrCodeUnknownID RuntimeErrorCode = "UNKNOWN_ID"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != 0 && e.Op != 0 {
		msg = fmt.Sprintf("%s (id=%d, op=%s)", msg, e.ID, e.Op)
	} else if e.ID != 0 {
		msg = fmt.Sprintf("%s (id=%d)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsBackendFailure returns true if the backend reported the operation as failed.
// Uses errors.As to handle wrapped errors.
func IsBackendFailure(err error) bool { return hasCode(err, ErrCodeBackendFailure) }

// IsDecodeFailure returns true if a payload could not be decoded.
func IsDecodeFailure(err error) bool { return hasCode(err, ErrCodeDecodeFailed) }

// IsTimeout returns true if the completion wait timed out.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsQueueFull returns true if the operation was rejected for capacity.
func IsQueueFull(err error) bool { return hasCode(err, ErrCodeQueueFull) }

// IsClosed returns true if the engine was closed.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }

// IsUnknownID returns true if a completion referenced no live pending call.
func IsUnknownID(err error) bool { return hasCode(err, ErrCodeUnknownID) }

// NewBackendError creates a RuntimeError for a failed backend completion.
func NewBackendError(id ir.CorrelationID, op ir.Op, description string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBackendFailure,
		Message: description,
		ID:      id,
		Op:      op,
	}
}

// NewTimeoutError creates a RuntimeError for an expired completion wait.
func NewTimeoutError(id ir.CorrelationID, op ir.Op) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTimeout,
		Message: "no completion received before timeout",
		ID:      id,
		Op:      op,
	}
}

// NewQueueFullError creates a RuntimeError for a rejected submission.
func NewQueueFullError(capacity int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQueueFull,
		Message: fmt.Sprintf("pending queue at capacity (%d)", capacity),
	}
}

// ErrClosed is returned by Submit after Stop.
var ErrClosed = &RuntimeError{Code: ErrCodeClosed, Message: "engine closed"}
