package cache

import (
	"log"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Cache Circuit Breaker
//
// Protects the scan hot path from a sick cache backend. Five consecutive
// backend failures open the breaker for 60 seconds; while open, get/set
// fast-fail without touching the backend so cache misses stay
// sub-millisecond. Each success decrements the failure counter, so a
// flapping backend has to fail five times in a row to trip it.
//
// This breaker is intentionally independent from the admission layer's:
// the two guard different failure surfaces.
// ──────────────────────────────────────────────────────────────────────

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

func (s breakerState) String() string {
	if s == breakerOpen {
		return "OPEN"
	}
	return "CLOSED"
}

type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	threshold int
	resetAt   time.Time
	openFor   time.Duration
}

// NewBreaker creates a breaker that opens after `threshold` consecutive
// failures and stays open for `openFor`.
func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 60 * time.Second
	}
	return &Breaker{threshold: threshold, openFor: openFor}
}

// Allow reports whether a backend call may proceed. An expired open state
// closes the breaker and lets the next call probe the backend.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Now().Before(b.resetAt) {
			return false
		}
		b.state = breakerClosed
		b.failures = 0
		log.Printf("[Cache] Circuit breaker reset: OPEN -> CLOSED")
	}
	return true
}

// RecordSuccess decrements the failure counter toward zero.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
	}
}

// RecordFailure counts a backend failure and opens the breaker at the
// threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.state = breakerOpen
		b.resetAt = time.Now().Add(b.openFor)
		log.Printf("[Cache] Circuit breaker tripped after %d consecutive failures: CLOSED -> OPEN (%s)",
			b.failures, b.openFor)
	}
}

// State returns the breaker state as a string for health reporting.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && time.Now().After(b.resetAt) {
		return breakerClosed.String()
	}
	return b.state.String()
}
