package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection refused")
	err := Transient(base)

	if !IsTransient(err) {
		t.Error("Expected transient classification")
	}
	if IsPermanent(err) {
		t.Error("Transient error must not be permanent")
	}
	if !errors.Is(err, base) {
		t.Error("Marker must preserve the underlying error")
	}
}

func TestPermanentClassification(t *testing.T) {
	base := errors.New("unsupported language")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Error("Expected permanent classification")
	}
	if IsTransient(err) {
		t.Error("Permanent error must not be transient")
	}
	if !errors.Is(err, base) {
		t.Error("Marker must preserve the underlying error")
	}
}

func TestUnmarkedErrorIsNeither(t *testing.T) {
	err := errors.New("plain")
	if IsTransient(err) || IsPermanent(err) {
		t.Error("Unmarked errors must carry no classification")
	}
}

func TestMarkersPassNilThrough(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) must be nil")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("calling provider: %w", Transient(errors.New("429")))
	if !IsTransient(err) {
		t.Error("Classification must survive further wrapping")
	}
}

func TestIsStructural(t *testing.T) {
	structural := []error{
		ErrEmptyTaskSet,
		ErrDuplicateTaskName,
		ErrInvalidConfiguration,
		NewCoordinationError("coordinator.Run", "config", ErrEmptyTaskSet),
	}
	for _, err := range structural {
		if !IsStructural(err) {
			t.Errorf("Expected structural: %v", err)
		}
	}

	if IsStructural(Transient(errors.New("x"))) {
		t.Error("Runtime task errors are not structural")
	}
	if IsStructural(ErrTimeout) {
		t.Error("Timeouts are not structural")
	}
}

func TestCoordinationErrorFormat(t *testing.T) {
	err := &CoordinationError{
		Op:   "coordinator.Run",
		Kind: "config",
		ID:   "sentiment",
		Err:  ErrDuplicateTaskName,
	}
	expected := "coordinator.Run [sentiment]: duplicate task name"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	withoutID := NewCoordinationError("bus.Publish", "bus", ErrNotSubscribed)
	expected = "bus.Publish: task not subscribed"
	if withoutID.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, withoutID.Error())
	}
}

func TestCoordinationErrorUnwrap(t *testing.T) {
	err := NewCoordinationError("bus.Publish", "bus", ErrNotSubscribed)
	if !errors.Is(err, ErrNotSubscribed) {
		t.Error("errors.Is must see through CoordinationError")
	}

	var coordErr *CoordinationError
	if !errors.As(err, &coordErr) {
		t.Error("errors.As must find the CoordinationError")
	}
	if coordErr.Kind != "bus" {
		t.Errorf("Expected kind bus, got %q", coordErr.Kind)
	}
}

func TestTaskErrorString(t *testing.T) {
	err := &TaskError{Code: TaskErrorCodeTimeout, Message: "task exceeded its timeout"}
	expected := "TASK_TIMEOUT: task exceeded its timeout"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	withDetails := &TaskError{Code: TaskErrorCodePermanent, Message: "executor failed", Details: "bad input"}
	expected = "PERMANENT_FAILURE: executor failed (bad input)"
	if withDetails.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, withDetails.Error())
	}
}
