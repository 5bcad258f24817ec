package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dkaramanos/synaxis/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt,
	// so a task is attempted at most MaxRetries+1 times.
	MaxRetries int

	// BackoffBase is the wait before the first retry. The wait before
	// retry k is BackoffBase * 2^(k-1).
	BackoffBase time.Duration

	// MaxDelay caps the backoff wait
	MaxDelay time.Duration

	// JitterEnabled adds small variation to waits to prevent
	// synchronized retries across concurrent tasks
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    2,
		BackoffBase:   200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterEnabled: true,
	}
}

// AttemptFunc performs one attempt and either returns a payload or an
// error. Only errors marked with core.Transient are retried.
type AttemptFunc func(ctx context.Context) (interface{}, error)

// Retry executes fn with bounded retry and exponential backoff. It returns
// the payload of the first successful attempt, the number of attempts made,
// and the error of the last attempt if all attempts failed.
//
// Errors marked with core.Permanent (or left unclassified) propagate
// immediately without consuming remaining retries. Backoff waits are
// cancelled by ctx, so a task whose deadline expires mid-wait stops
// retrying at once. Earlier attempt errors are discarded: only the last
// one is reported.
func Retry(ctx context.Context, config *RetryConfig, fn AttemptFunc) (interface{}, int, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	maxAttempts := config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		default:
		}

		attempts = attempt
		payload, err := fn(ctx)
		if err == nil {
			return payload, attempts, nil
		}
		lastErr = err

		// Context errors surface as-is so the caller can tell a
		// timeout from a provider failure
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}

		// Only transient errors are worth another attempt
		if !core.IsTransient(err) {
			return nil, attempts, err
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(config, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, attempts, fmt.Errorf("%w after %d attempts: %w", core.ErrMaxRetriesExceeded, attempts, lastErr)
}

// backoffDelay computes the wait between attempt k and k+1:
// BackoffBase * 2^(k-1), capped at MaxDelay.
func backoffDelay(config *RetryConfig, attempt int) time.Duration {
	delay := config.BackoffBase
	if delay < 0 {
		delay = 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
