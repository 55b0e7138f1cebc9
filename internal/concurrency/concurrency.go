// Package concurrency bounds simultaneous provider calls and provides a
// drain-on-shutdown hook, per spec.md §4.9. It wraps
// golang.org/x/sync/semaphore rather than hand-rolling a channel-based
// counter, since the rest of this module already depends on the x/sync
// family through its HTTP/provider call paths.
package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Acquire once Drain has begun, and by
// any acquirer still queued when the shutdown flag flips.
var ErrShuttingDown = errors.New("concurrency limiter is shutting down")

// Limiter bounds active callers to capacity and tracks how many are
// currently holding a slot so Drain can wait for them to finish.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64

	mu       sync.Mutex
	shutdown bool
	active   int64
	drained  chan struct{}
}

// New creates a Limiter with the given capacity (AI_MAX_CONCURRENCY).
func New(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		drained:  make(chan struct{}),
	}
}

// Acquire blocks until a slot is free or ctx is cancelled, failing fast
// if shutdown has already begun.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil, ErrShuttingDown
	}
	l.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		l.sem.Release(1)
		return nil, ErrShuttingDown
	}
	l.active++
	l.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		l.sem.Release(1)
		l.mu.Lock()
		l.active--
		if l.shutdown && l.active == 0 {
			select {
			case <-l.drained:
			default:
				close(l.drained)
			}
		}
		l.mu.Unlock()
	}
	return release, nil
}

// WithLimit runs task under an acquired slot, releasing it on every exit
// path including panics propagated from task.
func (l *Limiter) WithLimit(ctx context.Context, task func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return task(ctx)
}

// ActiveCount reports the number of callers currently holding a slot.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.active)
}

// Drain flips the shutdown flag, which makes every subsequent and
// currently-queued Acquire fail with ErrShuttingDown, and waits up to
// timeout for active holders to release. Returns true iff active calls
// reached zero before the deadline.
func (l *Limiter) Drain(timeout time.Duration) bool {
	l.mu.Lock()
	if !l.shutdown {
		l.shutdown = true
		if l.active == 0 {
			close(l.drained)
		}
	}
	alreadyDrained := l.active == 0
	l.mu.Unlock()

	if alreadyDrained {
		return true
	}

	select {
	case <-l.drained:
		return true
	case <-time.After(timeout):
		return false
	}
}
