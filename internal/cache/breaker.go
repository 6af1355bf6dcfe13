package cache

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker guards the single revalidation endpoint. A flapping or down
// frontend must not add latency to every billing write, so after
// failureThreshold consecutive failures calls are suppressed until
// recoveryTime passes, then one probe is let through.
type Breaker struct {
	mu               sync.Mutex
	failures         int
	lastFailure      time.Time
	state            breakerState
	failureThreshold int
	recoveryTime     time.Duration
}

func NewBreaker(failureThreshold int, recoveryTime time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTime <= 0 {
		recoveryTime = time.Minute
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
	}
}

// Allow reports whether the next call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if time.Since(b.lastFailure) > b.recoveryTime {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = breakerClosed
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == breakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = breakerOpen
	}
}

// State returns the current state name for logs and tests.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}
