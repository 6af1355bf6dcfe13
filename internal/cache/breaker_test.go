package cache

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	if !b.Allow() {
		t.Fatal("new breaker should allow calls")
	}

	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("breaker should stay closed below threshold")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker should open at threshold")
	}
	if got := b.State(); got != "open" {
		t.Errorf("State() = %q, want open", got)
	}
}

func TestBreakerRecoversAfterWindow(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open after failure")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker should allow a probe after recovery window")
	}
	if got := b.State(); got != "half_open" {
		t.Errorf("State() = %q, want half_open", got)
	}

	b.RecordSuccess()
	if got := b.State(); got != "closed" {
		t.Errorf("State() after success = %q, want closed", got)
	}
	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(2, 10*time.Millisecond)

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker should allow a probe after recovery window")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("failed probe should reopen the breaker immediately")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if !b.Allow() {
		t.Error("failure count should reset after a success")
	}
}
