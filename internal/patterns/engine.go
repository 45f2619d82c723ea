package patterns

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Pattern-Matching Engine
//
// Evaluates a parsed transaction against the indexed exploit catalogue:
//
//   1. L1 cache lookup by transaction fingerprint (~10 ms budget)
//   2. Derive coarse metrics
//   3. Four concurrent sub-matchers, each under its own deadline:
//        critical_program  (direct hit table, never skipped)
//        program           (direct hit table, fp-rate adjusted confidence)
//        instruction_regex (~30 ms, sequential scan over data hex)
//        behavioral+account (~20 ms, rule evaluation over metrics)
//   4. Deduplicate by pattern_id keeping the strongest instance
//   5. Sort by (severity, confidence) descending, cap at 20
//   6. Opportunistically cache + bump effectiveness counters
//
// Externally the engine is either READY (serving the current snapshot)
// or RELOADING (building a new one while readers continue on the old).
// ──────────────────────────────────────────────────────────────────────

const (
	cacheLookupBudget  = 10 * time.Millisecond
	regexBudget        = 30 * time.Millisecond
	behavioralBudget   = 20 * time.Millisecond
	maxReturnedMatches = 20
)

// Engine state strings for health reporting.
const (
	StateReady     = "READY"
	StateReloading = "RELOADING"
)

// Engine serves pattern matches from an atomically swapped snapshot.
type Engine struct {
	snapshot atomic.Pointer[Snapshot]
	counters *CounterTable
	cache    *cache.Service // nil disables both cache tiers
	loader   Loader

	authorityThreshold int

	reloading atomic.Bool
	reloadMu  sync.Mutex // serializes reloads, never blocks readers
}

// NewEngine loads the initial catalogue through the loader. A load
// failure falls back to the builtin minimal set and logs prominently.
func NewEngine(loader Loader, cacheSvc *cache.Service, authorityThreshold int) *Engine {
	e := &Engine{
		counters:           NewCounterTable(),
		cache:              cacheSvc,
		loader:             loader,
		authorityThreshold: authorityThreshold,
	}

	patterns, verified, blocklisted, err := loadAll(loader)
	if err != nil {
		log.Printf("[Patterns] FALLBACK: catalogue load failed (%v); serving builtin minimal set", err)
		patterns, verified, blocklisted = BuiltinCatalogue()
	}

	snap := BuildSnapshot(patterns, verified, blocklisted)
	for _, p := range patterns {
		e.counters.Seed(p.PatternID, p.MatchCount, p.FalsePositiveCount)
	}
	e.snapshot.Store(snap)
	log.Printf("[Patterns] Catalogue ready: %d patterns indexed (snapshot %d, %d regex skipped)",
		snap.PatternCount, snap.ID, snap.SkippedRegex)
	return e
}

// Snapshot returns the current catalogue version. Callers hold it for at
// most one scan.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// State reports READY or RELOADING.
func (e *Engine) State() string {
	if e.reloading.Load() {
		return StateReloading
	}
	return StateReady
}

// Counters exposes the effectiveness side table (for feedback endpoints).
func (e *Engine) Counters() *CounterTable {
	return e.counters
}

// ReloadPatterns builds a fresh snapshot off the hot path and swaps it in
// atomically. Active scans continue on the old snapshot. Driven by an
// external scheduler or the optional internal ticker.
func (e *Engine) ReloadPatterns(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	e.reloading.Store(true)
	defer e.reloading.Store(false)

	patterns, verified, blocklisted, err := loadAll(e.loader)
	if err != nil {
		return fmt.Errorf("pattern reload failed, keeping snapshot %d: %w", e.Snapshot().ID, err)
	}

	snap := BuildSnapshot(patterns, verified, blocklisted)
	for _, p := range patterns {
		e.counters.Seed(p.PatternID, p.MatchCount, p.FalsePositiveCount)
	}
	e.snapshot.Store(snap)

	// Stale cached match lists reference the old snapshot; drop them.
	if e.cache != nil {
		dropped := e.cache.InvalidatePattern(ctx, cache.NSPatternMatches, "*")
		log.Printf("[Patterns] Reloaded: snapshot %d with %d patterns (%d cached match lists invalidated)",
			snap.ID, snap.PatternCount, dropped)
	} else {
		log.Printf("[Patterns] Reloaded: snapshot %d with %d patterns", snap.ID, snap.PatternCount)
	}
	return nil
}

// RunReloadTicker re-resolves the catalogue on a fixed interval until the
// context is cancelled. Used when no external scheduler drives reloads.
func (e *Engine) RunReloadTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Patterns] Stopping reload ticker...")
			return
		case <-ticker.C:
			if err := e.ReloadPatterns(ctx); err != nil {
				log.Printf("[Patterns] Scheduled reload error: %v", err)
			}
		}
	}
}

type subResult struct {
	matches  []models.PatternMatch
	timedOut bool
}

// Match evaluates one transaction. The passed context carries the
// caller's overall budget; sub-matchers run under tighter deadlines.
func (e *Engine) Match(ctx context.Context, tx *models.ParsedTransaction, fingerprint string) *models.PatternAnalysis {
	start := time.Now()
	snap := e.Snapshot()

	// L1 lookup — bounded so a slow cache cannot eat the match budget.
	if e.cache != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, cacheLookupBudget)
		var cached models.PatternAnalysis
		ok := e.cache.GetJSON(lookupCtx, cache.NSPatternMatches, fingerprint, &cached)
		cancel()
		if ok {
			cached.CacheHit = true
			cached.MatchTimeMs = msSince(start)
			return &cached
		}
	}

	metrics := DeriveMetrics(tx, e.authorityThreshold)

	results := make(chan subResult, 4)
	var wg sync.WaitGroup
	wg.Add(4)

	// critical_program: highest priority, cannot be skipped — it runs
	// without its own sub-deadline, bounded only by the caller.
	go func() {
		defer wg.Done()
		results <- subResult{matches: e.matchCritical(snap, tx)}
	}()
	go func() {
		defer wg.Done()
		results <- subResult{matches: e.matchPrograms(snap, tx)}
	}()
	go func() {
		defer wg.Done()
		results <- e.matchRegex(ctx, snap, tx)
	}()
	go func() {
		defer wg.Done()
		results <- e.matchBehavioral(ctx, snap, tx, metrics)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var all []models.PatternMatch
	partial := false
	collected := 0

collect:
	for collected < 4 {
		select {
		case r := <-results:
			collected++
			all = append(all, r.matches...)
			if r.timedOut {
				partial = true
			}
		case <-ctx.Done():
			partial = true
			break collect
		case <-done:
			// Drain whatever is buffered.
			for collected < 4 {
				select {
				case r := <-results:
					collected++
					all = append(all, r.matches...)
					if r.timedOut {
						partial = true
					}
				default:
					collected = 4
				}
			}
		}
	}

	matches := dedupeMatches(all)
	sortMatches(matches)
	if len(matches) > maxReturnedMatches {
		matches = matches[:maxReturnedMatches]
	}

	criticalHit := false
	for _, m := range matches {
		if m.Kind == models.KindCriticalProgram {
			criticalHit = true
		}
		e.counters.RecordMatch(m.PatternID)
	}

	analysis := &models.PatternAnalysis{
		Matches:      matches,
		TotalMatches: len(matches),
		CriticalHit:  criticalHit,
		Partial:      partial,
		MatchTimeMs:  msSince(start),
		SnapshotID:   snap.ID,
		SkippedRegex: snap.SkippedRegex,
	}

	// Fire-and-forget cache write; partial results are not cached so a
	// transient timeout cannot poison the TTL window.
	if e.cache != nil && !partial {
		e.cache.SetJSON(ctx, cache.NSPatternMatches, fingerprint, analysis)
	}

	return analysis
}

// matchCritical checks the critical direct-hit table.
func (e *Engine) matchCritical(snap *Snapshot, tx *models.ParsedTransaction) []models.PatternMatch {
	var out []models.PatternMatch
	for _, program := range tx.UniquePrograms() {
		start := time.Now()
		for _, p := range snap.CriticalByProgram[program] {
			out = append(out, models.PatternMatch{
				PatternID:   p.PatternID,
				Name:        p.Name,
				Kind:        p.Kind,
				Severity:    p.Severity,
				Confidence:  clamp(p.BaseConfidence, 0.1, 0.99),
				Evidence:    map[string]string{"program": program},
				MatchTimeMs: msSince(start),
			})
		}
	}
	return out
}

// matchPrograms checks the non-critical direct-hit table, discounting
// confidence by the pattern's historical false-positive rate:
// effective = base × (1 − 0.3 × fp_rate), clamped to [0.1, 0.99].
func (e *Engine) matchPrograms(snap *Snapshot, tx *models.ParsedTransaction) []models.PatternMatch {
	var out []models.PatternMatch
	for _, program := range tx.UniquePrograms() {
		for _, p := range snap.ByProgram[program] {
			start := time.Now()
			fpRate := e.counters.Get(p.PatternID).FPRate()
			confidence := clamp(p.BaseConfidence*(1-0.3*fpRate), 0.1, 0.99)
			out = append(out, models.PatternMatch{
				PatternID:   p.PatternID,
				Name:        p.Name,
				Kind:        p.Kind,
				Severity:    p.Severity,
				Confidence:  confidence,
				Evidence:    map[string]string{"program": program},
				MatchTimeMs: msSince(start),
			})
		}
	}
	return out
}

// matchRegex scans every instruction's data hex against the precompiled
// regex list under its own deadline.
func (e *Engine) matchRegex(ctx context.Context, snap *Snapshot, tx *models.ParsedTransaction) subResult {
	deadline := time.Now().Add(regexBudget)
	var out []models.PatternMatch

	for _, p := range snap.RegexPatterns {
		start := time.Now()
		for _, ins := range tx.Instructions {
			if time.Now().After(deadline) || ctx.Err() != nil {
				return subResult{matches: out, timedOut: true}
			}
			if p.Compiled.MatchString(ins.DataHex) {
				out = append(out, models.PatternMatch{
					PatternID:  p.PatternID,
					Name:       p.Name,
					Kind:       p.Kind,
					Severity:   p.Severity,
					Confidence: clamp(p.BaseConfidence, 0.1, 0.99),
					Evidence: map[string]string{
						"instruction_index": fmt.Sprintf("%d", ins.Index),
					},
					MatchTimeMs: msSince(start),
				})
				break // one hit per pattern is enough
			}
		}
	}
	return subResult{matches: out}
}

// matchBehavioral evaluates behavioral and account-pattern rules against
// the derived metrics under a shared deadline.
func (e *Engine) matchBehavioral(ctx context.Context, snap *Snapshot, tx *models.ParsedTransaction, metrics TxMetrics) subResult {
	deadline := time.Now().Add(behavioralBudget)
	var out []models.PatternMatch

	evaluate := func(p *models.ExploitPattern) bool {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		start := time.Now()
		if !EvaluateRules(p.BehavioralRules, metrics) {
			return true // continue
		}
		ruleNames := make([]string, 0, len(p.BehavioralRules))
		for name := range p.BehavioralRules {
			ruleNames = append(ruleNames, name)
		}
		sort.Strings(ruleNames)
		out = append(out, models.PatternMatch{
			PatternID:   p.PatternID,
			Name:        p.Name,
			Kind:        p.Kind,
			Severity:    p.Severity,
			Confidence:  clamp(p.BaseConfidence, 0.1, 0.99),
			Evidence:    map[string]string{"rules": strings.Join(ruleNames, ",")},
			MatchTimeMs: msSince(start),
		})
		return true
	}

	for _, p := range snap.BehavioralPatterns {
		if !evaluate(p) {
			return subResult{matches: out, timedOut: true}
		}
	}
	for _, p := range snap.AccountPatterns {
		if !evaluate(p) {
			return subResult{matches: out, timedOut: true}
		}
	}
	return subResult{matches: out}
}

// dedupeMatches keeps the highest-severity / highest-confidence instance
// per pattern_id.
func dedupeMatches(matches []models.PatternMatch) []models.PatternMatch {
	best := make(map[string]models.PatternMatch, len(matches))
	for _, m := range matches {
		prev, seen := best[m.PatternID]
		if !seen || stronger(m, prev) {
			best[m.PatternID] = m
		}
	}
	out := make([]models.PatternMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out
}

func stronger(a, b models.PatternMatch) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Confidence > b.Confidence
}

// sortMatches orders by (severity, confidence) descending, pattern_id as
// a deterministic tiebreaker.
func sortMatches(matches []models.PatternMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Severity.Rank() != matches[j].Severity.Rank() {
			return matches[i].Severity.Rank() > matches[j].Severity.Rank()
		}
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].PatternID < matches[j].PatternID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
