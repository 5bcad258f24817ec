// Package orchestration implements the multi-agent coordination engine: a
// task coordinator that fans out named analysis tasks against one input
// under a shared concurrency limit, with per-task retry and timeout, plus
// the in-memory message bus used by composite pipelines.
//
// The coordinator never escalates an individual task failure: every task is
// driven to a terminal outcome (success, failed, timed out, or cancelled)
// and the set of outcomes is returned as one aggregate. Run itself returns
// an error only for structurally invalid invocations such as an empty task
// set or duplicate task names.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dkaramanos/synaxis/core"
	"github.com/dkaramanos/synaxis/resilience"
)

// Task pairs a TaskSpec with the executor that performs it
type Task struct {
	Spec    core.TaskSpec
	Execute core.TaskExecutor
}

// CoordinatorConfig configures a Coordinator. Values left zero fall back
// to the defaults from DefaultCoordinatorConfig.
type CoordinatorConfig struct {
	// MaxConcurrency bounds how many tasks run simultaneously.
	// Kept small by default: the downstream inference providers are
	// rate limited.
	MaxConcurrency int

	// DefaultTimeout applies to tasks whose spec leaves Timeout zero
	DefaultTimeout time.Duration

	// DefaultMaxRetries applies to tasks whose spec leaves MaxRetries
	// negative
	DefaultMaxRetries int

	// DefaultBackoffBase applies to tasks whose spec leaves BackoffBase
	// zero
	DefaultBackoffBase time.Duration

	// MaxBackoff caps the exponential backoff wait
	MaxBackoff time.Duration

	// JitterEnabled adds variation to backoff waits
	JitterEnabled bool

	// Logger is optional
	Logger core.Logger

	// Telemetry is optional
	Telemetry core.Telemetry

	// CircuitBreaker optionally guards every executor call. A tripped
	// breaker surfaces as a transient error, so tasks back off rather
	// than hammer a failing provider.
	CircuitBreaker *resilience.CircuitBreaker
}

// DefaultCoordinatorConfig provides sensible defaults
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		MaxConcurrency:     3,
		DefaultTimeout:     60 * time.Second,
		DefaultMaxRetries:  2,
		DefaultBackoffBase: 200 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		JitterEnabled:      true,
	}
}

// Coordinator runs named sets of analysis tasks against one input and
// aggregates their outcomes. A single Coordinator is safe for concurrent
// use; all runs share one concurrency limiter.
type Coordinator struct {
	config    *CoordinatorConfig
	limiter   *Limiter
	logger    core.Logger
	telemetry core.Telemetry
	breaker   *resilience.CircuitBreaker

	inFlight atomic.Int64
}

// CoordinatorSnapshot is a read-only view of coordinator activity for
// health/metrics reporting.
type CoordinatorSnapshot struct {
	InFlight int64           `json:"in_flight"`
	Limiter  LimiterSnapshot `json:"limiter"`
}

// NewCoordinator creates a coordinator
func NewCoordinator(config *CoordinatorConfig) *Coordinator {
	defaults := DefaultCoordinatorConfig()
	if config == nil {
		config = defaults
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = defaults.DefaultMaxRetries
	}
	if config.DefaultBackoffBase <= 0 {
		config.DefaultBackoffBase = defaults.DefaultBackoffBase
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := config.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Coordinator{
		config:    config,
		limiter:   NewLimiter(config.MaxConcurrency),
		logger:    logger,
		telemetry: telemetry,
		breaker:   config.CircuitBreaker,
	}
}

// Run executes every task concurrently, bounded by the concurrency
// limiter, and returns once all tasks have reached a terminal state. The
// aggregate is partial-failure tolerant: one task failing never aborts its
// siblings. Run returns an error only when the invocation itself is
// structurally invalid.
func (c *Coordinator) Run(ctx context.Context, tasks []Task, input interface{}) (*core.AggregateResult, error) {
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	start := time.Now()

	ctx, span := c.telemetry.StartSpan(ctx, "coordinator.run")
	span.SetAttribute("run_id", runID)
	span.SetAttribute("task_count", len(tasks))
	defer span.End()

	c.logger.Info("Starting coordinator run", map[string]interface{}{
		"run_id":     runID,
		"task_count": len(tasks),
	})

	outcomes := make(map[string]core.TaskOutcome, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := c.runTask(ctx, task, input)
			mu.Lock()
			outcomes[outcome.TaskName] = outcome
			mu.Unlock()
		}()
	}
	wg.Wait()

	result := &core.AggregateResult{
		RunID:        runID,
		Outcomes:     outcomes,
		TotalElapsed: time.Since(start),
	}

	c.telemetry.RecordMetric("synaxis.run.duration_ms",
		float64(result.TotalElapsed.Milliseconds()), map[string]string{})

	c.logger.Info("Coordinator run completed", map[string]interface{}{
		"run_id":        runID,
		"total_elapsed": result.TotalElapsed.String(),
		"failed_tasks":  len(result.FailedTasks()),
	})

	return result, nil
}

// Snapshot returns in-flight task counts and limiter utilization
func (c *Coordinator) Snapshot() CoordinatorSnapshot {
	return CoordinatorSnapshot{
		InFlight: c.inFlight.Load(),
		Limiter:  c.limiter.Snapshot(),
	}
}

// runTask drives one task to a terminal outcome: slot acquisition, then the
// whole retry sequence raced against the task's single timeout. The slot is
// released on every exit path.
func (c *Coordinator) runTask(ctx context.Context, task Task, input interface{}) core.TaskOutcome {
	spec := c.applyDefaults(task.Spec)
	start := time.Now()

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	if err := c.limiter.Acquire(ctx); err != nil {
		return core.TaskOutcome{
			TaskName: spec.Name,
			Status:   core.StatusCancelled,
			Error: &core.TaskError{
				Code:    core.TaskErrorCodeCancelled,
				Message: "run cancelled while waiting for a slot",
				Details: err.Error(),
			},
			Attempts: 1,
			Elapsed:  time.Since(start),
		}
	}
	defer c.limiter.Release()

	// The timeout wraps the entire retry sequence, not each attempt
	taskCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	retryConfig := &resilience.RetryConfig{
		MaxRetries:    spec.MaxRetries,
		BackoffBase:   spec.BackoffBase,
		MaxDelay:      c.config.MaxBackoff,
		JitterEnabled: c.config.JitterEnabled,
	}

	payload, attempts, err := resilience.Retry(taskCtx, retryConfig, func(attemptCtx context.Context) (interface{}, error) {
		return c.attempt(attemptCtx, task, input)
	})
	elapsed := time.Since(start)
	if attempts < 1 {
		attempts = 1
	}

	outcome := core.TaskOutcome{
		TaskName: spec.Name,
		Attempts: attempts,
		Elapsed:  elapsed,
	}

	switch {
	case err == nil:
		outcome.Status = core.StatusSuccess
		outcome.Payload = payload
	case ctx.Err() != nil:
		outcome.Status = core.StatusCancelled
		outcome.Error = &core.TaskError{
			Code:    core.TaskErrorCodeCancelled,
			Message: "enclosing run was cancelled",
			Details: err.Error(),
		}
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		outcome.Status = core.StatusTimedOut
		outcome.Error = &core.TaskError{
			Code:    core.TaskErrorCodeTimeout,
			Message: "task exceeded its timeout of " + spec.Timeout.String(),
			Details: err.Error(),
		}
	default:
		outcome.Status = core.StatusFailed
		code := core.TaskErrorCodePermanent
		if errors.Is(err, core.ErrMaxRetriesExceeded) {
			code = core.TaskErrorCodeRetriesExhausted
		}
		outcome.Error = &core.TaskError{
			Code:    code,
			Message: "executor failed",
			Details: err.Error(),
		}
	}

	c.telemetry.RecordMetric("synaxis.task.completed", 1, map[string]string{
		"task":   spec.Name,
		"status": string(outcome.Status),
	})
	c.telemetry.RecordMetric("synaxis.task.duration_ms",
		float64(elapsed.Milliseconds()), map[string]string{"task": spec.Name})

	if outcome.Status != core.StatusSuccess {
		c.logger.Warn("Task reached non-success terminal state", map[string]interface{}{
			"task":     spec.Name,
			"status":   string(outcome.Status),
			"attempts": attempts,
			"elapsed":  elapsed.String(),
			"error":    outcome.Error.Error(),
		})
	} else {
		c.logger.Debug("Task succeeded", map[string]interface{}{
			"task":     spec.Name,
			"attempts": attempts,
			"elapsed":  elapsed.String(),
		})
	}

	return outcome
}

// attempt performs one executor call, raced against the task deadline so a
// provider call that cannot observe cancellation still yields control; its
// late result is discarded. The optional circuit breaker sees only
// transient failures.
func (c *Coordinator) attempt(ctx context.Context, task Task, input interface{}) (interface{}, error) {
	if c.breaker != nil && !c.breaker.CanExecute() {
		return nil, core.Transient(core.ErrCircuitBreakerOpen)
	}

	payload, err := resilience.Await(ctx, func(workCtx context.Context) (interface{}, error) {
		return task.Execute(workCtx, input)
	})

	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
		case core.IsTransient(err):
			c.breaker.RecordFailure()
		}
	}
	return payload, err
}

func (c *Coordinator) applyDefaults(spec core.TaskSpec) core.TaskSpec {
	if spec.Timeout <= 0 {
		spec.Timeout = c.config.DefaultTimeout
	}
	if spec.MaxRetries < 0 {
		spec.MaxRetries = c.config.DefaultMaxRetries
	}
	if spec.BackoffBase <= 0 {
		spec.BackoffBase = c.config.DefaultBackoffBase
	}
	return spec
}

func validateTasks(tasks []Task) error {
	if len(tasks) == 0 {
		return core.NewCoordinationError("coordinator.Run", "config", core.ErrEmptyTaskSet)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if task.Spec.Name == "" {
			return core.NewCoordinationError("coordinator.Run", "config", core.ErrInvalidConfiguration)
		}
		if task.Execute == nil {
			return &core.CoordinationError{
				Op:   "coordinator.Run",
				Kind: "config",
				ID:   task.Spec.Name,
				Err:  core.ErrInvalidConfiguration,
			}
		}
		if _, dup := seen[task.Spec.Name]; dup {
			return &core.CoordinationError{
				Op:   "coordinator.Run",
				Kind: "config",
				ID:   task.Spec.Name,
				Err:  core.ErrDuplicateTaskName,
			}
		}
		seen[task.Spec.Name] = struct{}{}
	}
	return nil
}
