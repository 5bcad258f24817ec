package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Execution error classes
	ErrTransient = errors.New("transient execution error")
	ErrPermanent = errors.New("permanent execution error")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrCancelled          = errors.New("run cancelled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// Structural errors (programmer error, returned from Run itself)
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyTaskSet         = errors.New("empty task set")
	ErrDuplicateTaskName    = errors.New("duplicate task name")

	// Message bus errors
	ErrBusClosed     = errors.New("message bus closed")
	ErrNotSubscribed = errors.New("task not subscribed")
)

// Transient marks an error as retryable: provider overload, connection
// failures, and similar conditions worth another attempt.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent marks an error as non-retryable: malformed input or a provider
// rejection that will not change on retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient reports whether the error was marked retryable. Unmarked
// errors are not transient: executors opt in to retries explicitly.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether the error was marked non-retryable
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsStructural reports whether the error indicates an invalid coordinator
// invocation rather than a runtime task failure.
func IsStructural(err error) bool {
	return errors.Is(err, ErrEmptyTaskSet) ||
		errors.Is(err, ErrDuplicateTaskName) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// CoordinationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type CoordinationError struct {
	Op      string // Operation that failed (e.g., "coordinator.Run")
	Kind    string // Error kind (e.g., "task", "bus", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *CoordinationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *CoordinationError) Unwrap() error {
	return e.Err
}

// NewCoordinationError creates a new CoordinationError
func NewCoordinationError(op, kind string, err error) *CoordinationError {
	return &CoordinationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}
