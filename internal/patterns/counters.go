package patterns

import (
	"sync"
)

// ──────────────────────────────────────────────────────────────────────
// Pattern Effectiveness Counters
//
// Match and false-positive counts live OUTSIDE the immutable snapshot so
// reloads never fight counter writes. Updates flow through a buffered
// channel and are applied by a single background goroutine; when the
// channel is full the update is dropped. Lost updates are acceptable —
// the counters tune confidence, they are not an audit log.
// ──────────────────────────────────────────────────────────────────────

// Effectiveness is one pattern's running tally.
type Effectiveness struct {
	MatchCount         uint64 `json:"matchCount"`
	FalsePositiveCount uint64 `json:"falsePositiveCount"`
}

// FPRate is false positives over recorded matches.
func (e Effectiveness) FPRate() float64 {
	denom := e.MatchCount
	if denom < 1 {
		denom = 1
	}
	return float64(e.FalsePositiveCount) / float64(denom)
}

type counterUpdate struct {
	patternID     string
	falsePositive bool
}

// CounterTable is the shared side table keyed by pattern_id.
type CounterTable struct {
	mu      sync.RWMutex
	entries map[string]Effectiveness
	updates chan counterUpdate
	done    chan struct{}
}

// NewCounterTable starts the apply loop.
func NewCounterTable() *CounterTable {
	t := &CounterTable{
		entries: make(map[string]Effectiveness),
		updates: make(chan counterUpdate, 4096),
		done:    make(chan struct{}),
	}
	go t.applyLoop()
	return t
}

func (t *CounterTable) applyLoop() {
	for {
		select {
		case u := <-t.updates:
			t.mu.Lock()
			e := t.entries[u.patternID]
			if u.falsePositive {
				e.FalsePositiveCount++
			} else {
				e.MatchCount++
			}
			t.entries[u.patternID] = e
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

// RecordMatch enqueues a match-count increment. Non-blocking.
func (t *CounterTable) RecordMatch(patternID string) {
	select {
	case t.updates <- counterUpdate{patternID: patternID}:
	default:
	}
}

// RecordFalsePositive enqueues a false-positive increment. Non-blocking.
// Called out-of-band when an analyst overturns a match.
func (t *CounterTable) RecordFalsePositive(patternID string) {
	select {
	case t.updates <- counterUpdate{patternID: patternID, falsePositive: true}:
	default:
	}
}

// Get returns the current tally for a pattern.
func (t *CounterTable) Get(patternID string) Effectiveness {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[patternID]
}

// Seed primes the table with counts carried by loaded patterns (e.g. a
// catalogue exported with historical effectiveness).
func (t *CounterTable) Seed(patternID string, matches, falsePositives uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[patternID]; !exists {
		t.entries[patternID] = Effectiveness{MatchCount: matches, FalsePositiveCount: falsePositives}
	}
}

// Close stops the apply loop.
func (t *CounterTable) Close() {
	close(t.done)
}
