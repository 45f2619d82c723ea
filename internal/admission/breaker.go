package admission

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen rejects submissions while the breaker is open. Callers
// should treat it as retriable overload.
var ErrBreakerOpen = errors.New("admission circuit breaker open")

// windowBreaker opens when the failure count inside a rolling window
// reaches the threshold; it rejects submissions for the reset duration,
// then half-opens and fully closes on the next success.
type windowBreaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	openFor   time.Duration

	failures  []time.Time
	openUntil time.Time
	halfOpen  bool
}

func newWindowBreaker(threshold int, window, openFor time.Duration) *windowBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if openFor <= 0 {
		openFor = 60 * time.Second
	}
	return &windowBreaker{threshold: threshold, window: window, openFor: openFor}
}

// allow reports whether a new submission may enter.
func (b *windowBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	// Open period elapsed: admit probes until one succeeds.
	b.halfOpen = true
	return true
}

func (b *windowBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halfOpen {
		b.halfOpen = false
		b.openUntil = time.Time{}
		b.failures = b.failures[:0]
	}
}

func (b *windowBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.threshold {
		b.openUntil = now.Add(b.openFor)
		b.halfOpen = false
		b.failures = b.failures[:0]
	}
}

// state reports CLOSED, OPEN or HALF_OPEN for health output.
func (b *windowBreaker) state() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.openUntil.IsZero():
		return "CLOSED"
	case time.Now().Before(b.openUntil):
		return "OPEN"
	default:
		return "HALF_OPEN"
	}
}
