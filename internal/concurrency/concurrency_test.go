package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyBound(t *testing.T) {
	const capacity = 4
	l := New(capacity)

	var active int64
	var maxActive int64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 3*capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLimit(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt64(&active, 1)
				mu.Lock()
				if n > maxActive {
					maxActive = n
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxActive, int64(capacity))
}

func TestDrainWaitsForActiveThenSucceeds(t *testing.T) {
	l := New(1)
	release, err := l.Acquire(context.Background())
	assert.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		done <- l.Drain(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	assert.True(t, <-done)
}

func TestDrainTimesOutWhenActiveNeverReleases(t *testing.T) {
	l := New(1)
	_, err := l.Acquire(context.Background())
	assert.NoError(t, err)

	assert.False(t, l.Drain(20*time.Millisecond))
}

func TestAcquireFailsAfterShutdown(t *testing.T) {
	l := New(1)
	l.Drain(0)

	_, err := l.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrShuttingDown))
}
