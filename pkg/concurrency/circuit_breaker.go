package concurrency

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects work.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the state of a CircuitBreaker.
type State int

const (
	// StateClosed lets all work through.
	StateClosed State = iota
	// StateOpen rejects all work until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets work through on probation; one failure reopens.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// halfOpenSuccesses closes a half-open breaker.
const halfOpenSuccesses = 5

// CircuitBreaker opens after a run of consecutive failures and stays open
// for resetTimeout after the last one.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments select
// 10 failures and 30 seconds.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open. An open breaker
// past its reset timeout moves to half-open and allows the call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
		return ErrCircuitOpen
	}
	cb.state = StateHalfOpen
	cb.successes = 0
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= halfOpenSuccesses {
		cb.state = StateClosed
		cb.successes = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
}
