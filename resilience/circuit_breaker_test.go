package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkaramanos/synaxis/core"
)

func newTestBreaker(failureThreshold, successThreshold int, sleepWindow time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		SleepWindow:      sleepWindow,
	})
}

// TestCircuitBreakerStartsClosed tests the initial state
func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker(3, 1, time.Minute)

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("Closed breaker must allow execution")
	}
}

// TestCircuitBreakerOpensAtThreshold tests that consecutive failures open
// the circuit
func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected open at threshold, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("Open breaker must reject execution")
	}
}

// TestCircuitBreakerSuccessResetsCount tests that a success interrupts the
// consecutive failure count
func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := newTestBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after interleaved success, got %s", cb.State())
	}
}

// TestCircuitBreakerHalfOpenAfterSleep tests the open -> half-open probe
// transition
func TestCircuitBreakerHalfOpenAfterSleep(t *testing.T) {
	cb := newTestBreaker(1, 1, 30*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("Expected rejection inside sleep window")
	}

	time.Sleep(50 * time.Millisecond)
	if !cb.CanExecute() {
		t.Error("Expected probe allowed after sleep window")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open, got %s", cb.State())
	}
}

// TestCircuitBreakerHalfOpenRecovery tests closing after enough probe
// successes
func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.CanExecute()

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open after one probe success, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after recovery, got %s", cb.State())
	}
}

// TestCircuitBreakerHalfOpenProbeFailure tests that a failed probe reopens
// immediately
func TestCircuitBreakerHalfOpenProbeFailure(t *testing.T) {
	cb := newTestBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.CanExecute()
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected reopened after probe failure, got %s", cb.State())
	}
}

// TestCircuitBreakerExecute tests the Execute wrapper end to end
func TestCircuitBreakerExecute(t *testing.T) {
	cb := newTestBreaker(2, 1, time.Minute)
	ctx := context.Background()

	transientErr := core.Transient(errors.New("overloaded"))
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return transientErr }); err == nil {
			t.Fatal("Expected error from failing work")
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after threshold failures, got %s", cb.State())
	}

	err := cb.Execute(ctx, func() error {
		t.Error("Work must not run while circuit is open")
		return nil
	})
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got: %v", err)
	}
	if !core.IsTransient(err) {
		t.Errorf("Open-circuit rejection should be retryable later, got: %v", err)
	}
}

// TestCircuitBreakerClassifierIgnoresPermanent tests that permanent errors
// do not trip the circuit
func TestCircuitBreakerClassifierIgnoresPermanent(t *testing.T) {
	cb := newTestBreaker(2, 1, time.Minute)
	ctx := context.Background()

	permErr := core.Permanent(errors.New("bad request"))
	for i := 0; i < 10; i++ {
		if err := cb.Execute(ctx, func() error { return permErr }); err == nil {
			t.Fatal("Expected error from failing work")
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Permanent errors must not open the circuit, got %s", cb.State())
	}
}

// TestCircuitBreakerReset tests the manual reset
func TestCircuitBreakerReset(t *testing.T) {
	cb := newTestBreaker(1, 1, time.Hour)

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("Reset breaker must allow execution")
	}
}

// TestCircuitBreakerMetrics tests the counters surface
func TestCircuitBreakerMetrics(t *testing.T) {
	cb := newTestBreaker(1, 1, time.Hour)

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.CanExecute() // rejected while open

	m := cb.Metrics()
	if m["state"] != "open" {
		t.Errorf("Expected state open, got %v", m["state"])
	}
	if m["total_successes"].(uint64) != 1 {
		t.Errorf("Expected 1 success, got %v", m["total_successes"])
	}
	if m["total_failures"].(uint64) != 1 {
		t.Errorf("Expected 1 failure, got %v", m["total_failures"])
	}
	if m["total_rejected"].(uint64) != 1 {
		t.Errorf("Expected 1 rejection, got %v", m["total_rejected"])
	}
}
