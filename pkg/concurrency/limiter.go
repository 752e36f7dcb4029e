// Package concurrency bounds how much work runs at once and sheds load
// while work keeps failing.
package concurrency

import (
	"context"
	"runtime"
	"sync/atomic"
)

// DefaultMaxConcurrent is twice the usable CPUs.
func DefaultMaxConcurrent() int {
	return 2 * runtime.GOMAXPROCS(0)
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Active   int64
	Peak     int64
	Acquired int64
	Rejected int64
}

// Limiter is a semaphore with an optional circuit breaker in front.
type Limiter struct {
	sem     chan struct{}
	breaker *CircuitBreaker

	active   atomic.Int64
	peak     atomic.Int64
	acquired atomic.Int64
	rejected atomic.Int64
}

// NewLimiter allows maxConcurrent holders at once; values below one allow
// one. breaker may be nil.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, maxConcurrent),
		breaker: breaker,
	}
}

// Capacity returns the number of slots.
func (l *Limiter) Capacity() int { return cap(l.sem) }

// Acquire waits for a slot. It fails immediately with ErrCircuitOpen while
// the breaker is open and with the context error when ctx is done first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil {
		if err := l.breaker.Allow(); err != nil {
			l.rejected.Add(1)
			return err
		}
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		l.rejected.Add(1)
		return ctx.Err()
	}

	l.acquired.Add(1)
	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
	default:
	}
}

// Go runs fn in a new goroutine once a slot is free. The outcome of fn is
// reported to the breaker.
func (l *Limiter) Go(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer l.Release()
		l.record(fn())
	}()
	return nil
}

// Do runs fn in the calling goroutine once a slot is free.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	err := fn()
	l.record(err)
	return err
}

func (l *Limiter) record(err error) {
	if l.breaker == nil {
		return
	}
	if err != nil {
		l.breaker.RecordFailure()
	} else {
		l.breaker.RecordSuccess()
	}
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Active:   l.active.Load(),
		Peak:     l.peak.Load(),
		Acquired: l.acquired.Load(),
		Rejected: l.rejected.Load(),
	}
}
