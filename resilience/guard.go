package resilience

import (
	"context"
	"time"
)

// WorkFunc is a unit of work raced against a deadline by WithTimeout
type WorkFunc func(ctx context.Context) (interface{}, error)

// WithTimeout races fn against a deadline. On expiry it returns
// context.DeadlineExceeded; fn is signalled to stop through its context but
// is not forcibly killed, and its eventual late result is discarded.
func WithTimeout(ctx context.Context, timeout time.Duration, fn WorkFunc) (interface{}, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Await(tctx, fn)
}

// Await runs fn in its own goroutine and races it against ctx cancellation.
// A late result from a work function that cannot observe cancellation is
// dropped on the floor rather than delivered to the caller; the buffered
// channel lets the goroutine finish without leaking.
func Await(ctx context.Context, fn WorkFunc) (interface{}, error) {
	type workResult struct {
		payload interface{}
		err     error
	}

	done := make(chan workResult, 1)
	go func() {
		payload, err := fn(ctx)
		done <- workResult{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
