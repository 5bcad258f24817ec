package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/dkaramanos/synaxis/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count toward the failure threshold
type ErrorClassifier func(error) bool

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker (for logging)
	Name string

	// FailureThreshold is the number of consecutive counted failures
	// before opening
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close again
	SuccessThreshold int

	// SleepWindow is how long to stay open before probing with
	// half-open requests
	SleepWindow time.Duration

	// ErrorClassifier decides which errors count as failures.
	// Defaults to core.IsTransient: permanent provider rejections say
	// nothing about provider health.
	ErrorClassifier ErrorClassifier

	// Logger for state transitions
	Logger core.Logger
}

// DefaultCircuitBreakerConfig returns a production-ready default configuration
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		SleepWindow:      30 * time.Second,
		ErrorClassifier:  core.IsTransient,
		Logger:           &core.NoOpLogger{},
	}
}

// CircuitBreaker protects a rate-limited provider from being hammered while
// it is failing. Consecutive counted failures open the circuit; after
// SleepWindow a limited number of probe requests decide whether to close it.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time

	totalSuccesses uint64
	totalFailures  uint64
	totalRejected  uint64
}

// NewCircuitBreaker creates a circuit breaker in the closed state
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = core.IsTransient
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// CanExecute returns true if the circuit breaker would allow execution.
// An open circuit transitions to half-open once SleepWindow has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.SleepWindow {
			cb.transition(StateHalfOpen)
			return true
		}
		cb.totalRejected++
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed execution. Errors rejected by the
// classifier should not be recorded at all.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++

	if cb.state == StateHalfOpen {
		// A failed probe reopens immediately
		cb.transition(StateOpen)
		return
	}

	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold {
		cb.transition(StateOpen)
	}
}

// Execute runs fn with circuit breaker protection. When the circuit is open
// it returns core.ErrCircuitBreakerOpen (marked transient, so retry layers
// treat a cooling-off provider as worth waiting for).
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return core.Transient(core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if err != nil {
		if cb.config.ErrorClassifier(err) {
			cb.RecordFailure()
		}
		return err
	}

	cb.RecordSuccess()
	return nil
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// Metrics returns current counters about the circuit breaker
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"state":           cb.state.String(),
		"total_successes": cb.totalSuccesses,
		"total_failures":  cb.totalFailures,
		"total_rejected":  cb.totalRejected,
	}
}

// transition changes state; caller must hold cb.mu
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to && to != StateClosed {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if from != to {
		cb.config.Logger.Info("Circuit breaker state change", map[string]interface{}{
			"name": cb.config.Name,
			"from": from.String(),
			"to":   to.String(),
		})
	}
}
