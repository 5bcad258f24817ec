package orchestration

import (
	"context"
	"sync"
)

// Limiter is a fixed-capacity counting semaphore bounding how many tasks
// run simultaneously. Waiters are admitted first-requested-first-admitted
// to avoid starvation. Every acquired slot must be released exactly once.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}

	acquired uint64
	released uint64
}

// LimiterSnapshot is a read-only view of limiter utilization for
// health/metrics reporting.
type LimiterSnapshot struct {
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
	Waiting  int    `json:"waiting"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
}

// NewLimiter creates a limiter with the given capacity. Capacity below 1
// is clamped to 1.
func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{capacity: capacity}
}

// Acquire blocks until a slot is available or ctx is done. Waiters are
// served in FIFO order. On success the caller owns one slot and must call
// Release on every exit path.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.inUse < l.capacity {
		l.inUse++
		l.acquired++
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The grant raced with cancellation: the slot was already
		// handed to us, so give it straight back.
		l.Release()
		return ctx.Err()
	}
}

// Release returns a slot. If a waiter is queued the slot transfers to it
// directly without touching the in-use count. Releasing a slot that was
// never acquired is a programming error.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse == 0 {
		panic("orchestration: limiter release without acquire")
	}

	l.released++
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.acquired++
		close(next)
		return
	}
	l.inUse--
}

// Capacity returns the configured slot count
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Snapshot returns current utilization
func (l *Limiter) Snapshot() LimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterSnapshot{
		Capacity: l.capacity,
		InUse:    l.inUse,
		Waiting:  len(l.waiters),
		Acquired: l.acquired,
		Released: l.released,
	}
}
