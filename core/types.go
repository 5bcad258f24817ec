// Package core provides the fundamental types and interfaces for the Synaxis
// coordination engine: task specifications, terminal outcomes, aggregate
// results, and the messages exchanged between cooperating analysis tasks.
//
// The core package never talks to an inference provider itself. Providers are
// represented by the TaskExecutor function type and injected at call time by
// the surrounding application.
package core

import (
	"context"
	"time"
)

// TaskExecutor performs one call to an external analysis capability.
// The input is opaque to the coordination engine; the executor either
// returns a payload or an error classified with Transient or Permanent.
// Executors must observe ctx cancellation at their next blocking point.
type TaskExecutor func(ctx context.Context, input interface{}) (interface{}, error)

// TaskSpec describes one named analysis task for a single coordinator run.
// A TaskSpec is immutable once handed to the coordinator.
type TaskSpec struct {
	// Name uniquely identifies the task within one run
	Name string `json:"name"`

	// Timeout bounds the task's entire execution, retries included.
	// Zero means the coordinator's default timeout.
	Timeout time.Duration `json:"timeout"`

	// MaxRetries is the number of retries after the first attempt.
	// Negative means the coordinator's default.
	MaxRetries int `json:"max_retries"`

	// BackoffBase is the wait before the first retry; subsequent waits
	// double. Zero means the coordinator's default.
	BackoffBase time.Duration `json:"backoff_base"`
}

// OutcomeStatus is the terminal state of a task
type OutcomeStatus string

const (
	// StatusSuccess indicates the task produced a payload
	StatusSuccess OutcomeStatus = "success"

	// StatusFailed indicates the task failed (permanently, or after
	// exhausting its retries)
	StatusFailed OutcomeStatus = "failed"

	// StatusTimedOut indicates the task's wall-clock budget elapsed
	StatusTimedOut OutcomeStatus = "timed_out"

	// StatusCancelled indicates the enclosing run was aborted
	StatusCancelled OutcomeStatus = "cancelled"
)

// Succeeded returns true for StatusSuccess
func (s OutcomeStatus) Succeeded() bool {
	return s == StatusSuccess
}

// TaskOutcome is the immutable terminal record of one task in one run.
// Payload is present iff Status is StatusSuccess; Error otherwise.
type TaskOutcome struct {
	TaskName string        `json:"task_name"`
	Status   OutcomeStatus `json:"status"`
	Payload  interface{}   `json:"payload,omitempty"`
	Error    *TaskError    `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// TaskError carries structured failure information for a task outcome
type TaskError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains additional error details
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Details != "" {
		return e.Code + ": " + e.Message + " (" + e.Details + ")"
	}
	return e.Code + ": " + e.Message
}

// Common error codes for TaskError
const (
	// TaskErrorCodeTimeout indicates the task exceeded its timeout
	TaskErrorCodeTimeout = "TASK_TIMEOUT"

	// TaskErrorCodeCancelled indicates the enclosing run was cancelled
	TaskErrorCodeCancelled = "TASK_CANCELLED"

	// TaskErrorCodePermanent indicates a non-retryable executor failure
	TaskErrorCodePermanent = "PERMANENT_FAILURE"

	// TaskErrorCodeRetriesExhausted indicates a transient failure that
	// persisted through every allowed attempt
	TaskErrorCodeRetriesExhausted = "RETRIES_EXHAUSTED"
)

// AggregateResult is the partial-failure-tolerant combined outcome of one
// coordinator run. Outcomes is keyed by task name; completion order carries
// no meaning.
type AggregateResult struct {
	// RunID uniquely identifies the coordinator run
	RunID string `json:"run_id"`

	// Outcomes maps task name to its terminal outcome
	Outcomes map[string]TaskOutcome `json:"outcomes"`

	// TotalElapsed is the wall-clock duration of the whole run
	TotalElapsed time.Duration `json:"total_elapsed"`
}

// Outcome returns the outcome for a task name, if present
func (r *AggregateResult) Outcome(name string) (TaskOutcome, bool) {
	o, ok := r.Outcomes[name]
	return o, ok
}

// AllSucceeded returns true if every task reached StatusSuccess
func (r *AggregateResult) AllSucceeded() bool {
	for _, o := range r.Outcomes {
		if !o.Status.Succeeded() {
			return false
		}
	}
	return true
}

// FailedTasks returns the names of tasks that did not succeed, with their
// error descriptions. Used by callers to build a failure manifest.
func (r *AggregateResult) FailedTasks() map[string]string {
	failed := make(map[string]string)
	for name, o := range r.Outcomes {
		if o.Status.Succeeded() {
			continue
		}
		if o.Error != nil {
			failed[name] = o.Error.Error()
		} else {
			failed[name] = string(o.Status)
		}
	}
	return failed
}

// Broadcast is the addressing marker for messages delivered to every
// subscriber of the message's kind.
const Broadcast = "*"

// Message is one unit of communication between cooperating tasks on the
// message bus. Messages are never mutated after publication.
type Message struct {
	// ID uniquely identifies the message (assigned by the bus)
	ID string `json:"id"`

	// From is the publishing task's name
	From string `json:"from"`

	// To is a task name for direct delivery, or Broadcast
	To string `json:"to"`

	// Kind identifies the message type (e.g. "keywords")
	Kind string `json:"kind"`

	// Body is the opaque message content
	Body interface{} `json:"body"`

	// Timestamp is when the message was published
	Timestamp time.Time `json:"timestamp"`
}
