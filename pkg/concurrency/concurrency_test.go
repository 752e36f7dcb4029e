package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, int64(2), l.Stats().Active)

	l.Release()
	l.Release()
	l.Release() // extra release is ignored

	stats := l.Stats()
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(2), stats.Peak)
	assert.Equal(t, int64(2), stats.Acquired)
}

func TestLimiter_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0, nil).Capacity())
	assert.GreaterOrEqual(t, DefaultMaxConcurrent(), 2)
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1, nil)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), l.Stats().Rejected)
}

func TestLimiter_GoBoundsConcurrency(t *testing.T) {
	l := NewLimiter(3, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		most    int
	)
	for range 20 {
		wg.Add(1)
		require.NoError(t, l.Go(ctx, func() error {
			defer wg.Done()
			mu.Lock()
			running++
			most = max(most, running)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, most, 3)
	assert.LessOrEqual(t, l.Stats().Peak, int64(3))
}

func TestLimiter_BreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	l := NewLimiter(1, cb)
	ctx := context.Background()

	err := l.Do(ctx, func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, l.Acquire(ctx), ErrCircuitOpen)
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "a success resets the failure run")
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State(), "a failure while half-open reopens")

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	for range halfOpenSuccesses {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())

	cb.RecordFailure()
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
