package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/txguard-engine/internal/analyzers"
	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/internal/config"
	"github.com/rawblock/txguard-engine/internal/events"
	"github.com/rawblock/txguard-engine/internal/explain"
	"github.com/rawblock/txguard-engine/internal/metrics"
	"github.com/rawblock/txguard-engine/internal/ml"
	"github.com/rawblock/txguard-engine/internal/parser"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/internal/scorer"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Scan Pipeline Orchestrator
//
// Turns one submitted transaction into one verdict:
//
//   parse → fingerprint → result-cache lookup → fan out the four
//   analyzers under per-branch deadlines → collect (possibly partial)
//   → score → explain → cache → enqueue scan event → return
//
// The orchestrator never lets an analyzer error or panic escape: a
// failing branch is marked failed and the scan continues. The only
// error Scan itself returns is ErrScanTimeout, raised when the overall
// request deadline expires before a verdict could be assembled.
// ──────────────────────────────────────────────────────────────────────

// ErrScanTimeout is surfaced when the pipeline deadline expires before
// the verdict is assembled (408-equivalent).
var ErrScanTimeout = errors.New("scan deadline exceeded")

// Request is one admitted scan.
type Request struct {
	Transaction json.RawMessage
	UserWallet  string
	ScanType    string
}

// Pipeline wires the parser, the four analyzers, the scorer and the
// outbound collaborators.
type Pipeline struct {
	parser   *parser.Parser
	engine   *patterns.Engine
	programs *analyzers.ProgramAnalyzer
	accounts *analyzers.AccountAnalyzer
	detector *ml.Detector

	cache     *cache.Service // nil disables result caching
	emitter   *events.Emitter
	explainer explain.Explainer // nil = always use the fallback template
	mets      *metrics.Metrics  // nil disables instrumentation

	fingerprintAlgo   string
	pipelineDeadline  time.Duration
	explainerDeadline time.Duration
	branchDeadlines   config.AnalyzerDeadlines
}

// Options carries the collaborators; nil fields degrade gracefully.
type Options struct {
	Parser    *parser.Parser
	Engine    *patterns.Engine
	Programs  *analyzers.ProgramAnalyzer
	Accounts  *analyzers.AccountAnalyzer
	Detector  *ml.Detector
	Cache     *cache.Service
	Emitter   *events.Emitter
	Explainer explain.Explainer
	Metrics   *metrics.Metrics
	Config    config.Config
}

func New(opts Options) *Pipeline {
	deadline := opts.Config.PipelineDeadline
	if deadline <= 0 {
		deadline = 1700 * time.Millisecond
	}
	explainerDeadline := opts.Config.ExplainerDeadline
	if explainerDeadline <= 0 {
		explainerDeadline = time.Second
	}
	return &Pipeline{
		parser:            opts.Parser,
		engine:            opts.Engine,
		programs:          opts.Programs,
		accounts:          opts.Accounts,
		detector:          opts.Detector,
		cache:             opts.Cache,
		emitter:           opts.Emitter,
		explainer:         opts.Explainer,
		mets:              opts.Metrics,
		fingerprintAlgo:   opts.Config.FingerprintHash,
		pipelineDeadline:  deadline,
		explainerDeadline: explainerDeadline,
		branchDeadlines:   opts.Config.AnalyzerDeadlines,
	}
}

type branchOutcome struct {
	name     string
	elapsed  float64
	err      error
	program  *models.ProgramAnalysis
	patterns *models.PatternAnalysis
	ml       *models.MLAnalysis
	account  *models.AccountAnalysis
}

// Scan runs the full pipeline for one request.
func (p *Pipeline) Scan(ctx context.Context, req Request) (*models.ScanResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.pipelineDeadline)
	defer cancel()

	tx, err := p.parser.ParseInput(req.Transaction)
	if err != nil {
		// A transaction we cannot decode is never vouched for: return
		// the minimum-information CAUTION verdict instead of an error.
		log.Printf("[Pipeline] Parse failure, returning minimum-information verdict: %v", err)
		return p.unparseableResult(start), nil
	}

	fingerprint := parser.Fingerprint(tx, p.fingerprintAlgo)

	if p.cache != nil {
		var cached models.ScanResult
		if p.cache.GetJSON(ctx, cache.NSScanResults, fingerprint, &cached) {
			if p.mets != nil {
				p.mets.RecordCacheOp(cache.NSScanResults, "hit")
			}
			cached.ScanID = uuid.New().String()
			cached.Timestamp = time.Now().UTC()
			cached.ScanTimeMs = msSince(start)
			cached.CacheHit = true
			p.emit(&cached, tx, req)
			return &cached, nil
		}
		if p.mets != nil {
			p.mets.RecordCacheOp(cache.NSScanResults, "miss")
		}
	}

	outcomes := p.fanOut(ctx, tx, req.UserWallet, fingerprint)
	if ctx.Err() != nil && len(outcomes) == 0 {
		return nil, ErrScanTimeout
	}

	in := &scorer.Input{}
	componentTimes := make(map[string]float64, 4)
	completed := make([]string, 0, 4)
	failed := make([]string, 0, 4)
	for _, o := range outcomes {
		componentTimes[o.name] = o.elapsed
		if p.mets != nil {
			p.mets.RecordAnalyzer(o.name, o.elapsed/1000.0, o.err != nil)
		}
		if o.err != nil {
			failed = append(failed, o.name)
			continue
		}
		completed = append(completed, o.name)
		switch o.name {
		case models.ComponentProgram:
			in.Program = o.program
		case models.ComponentPatterns:
			in.Patterns = o.patterns
		case models.ComponentML:
			in.ML = o.ml
		case models.ComponentAccount:
			in.Account = o.account
		}
	}

	if p.mets != nil && in.Patterns != nil {
		for _, m := range in.Patterns.Matches {
			p.mets.RecordPatternMatch(string(m.Severity))
		}
	}

	verdict := scorer.Score(in)

	result := &models.ScanResult{
		ScanID:              uuid.New().String(),
		RiskLevel:           verdict.RiskLevel,
		RiskScore:           verdict.RiskScore,
		Confidence:          verdict.Confidence,
		ComponentTimes:      componentTimes,
		CompletedComponents: completed,
		FailedComponents:    failed,
		Details: models.ScanDetails{
			ProgramAnalysis: in.Program,
			PatternAnalysis: in.Patterns,
			MLAnalysis:      in.ML,
			AccountAnalysis: in.Account,
		},
		Timestamp: time.Now().UTC(),
	}

	explanation := p.explain(ctx, result)
	result.Explanation = explanation.Explanation
	result.Recommendation = explanation.Recommendation
	result.ScanTimeMs = msSince(start)

	// Only fully completed scans are cached; a partial verdict must not
	// answer for the whole TTL window.
	if p.cache != nil && len(failed) == 0 {
		p.cache.SetJSON(ctx, cache.NSScanResults, fingerprint, result)
	}

	p.emit(result, tx, req)
	return result, nil
}

// fanOut launches the four analyzer branches and collects whatever
// finishes before the pipeline deadline.
func (p *Pipeline) fanOut(ctx context.Context, tx *models.ParsedTransaction, userWallet, fingerprint string) []branchOutcome {
	results := make(chan branchOutcome, 4)

	run := func(name string, budget time.Duration, fn func(context.Context) branchOutcome) {
		go func() {
			branchCtx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			outcome := branchOutcome{name: name, err: context.DeadlineExceeded}
			done := make(chan branchOutcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("[Pipeline] PANIC in %s branch: %v", name, r)
						done <- branchOutcome{name: name, err: errors.New("analyzer panic")}
					}
				}()
				done <- fn(branchCtx)
			}()

			branchStart := time.Now()
			select {
			case outcome = <-done:
			case <-branchCtx.Done():
			}
			outcome.elapsed = msSince(branchStart)
			results <- outcome
		}()
	}

	run(models.ComponentProgram, orDefault(p.branchDeadlines.Program, 50*time.Millisecond), func(c context.Context) branchOutcome {
		r, err := p.programs.Analyze(c, tx)
		return branchOutcome{name: models.ComponentProgram, program: r, err: err}
	})
	run(models.ComponentPatterns, orDefault(p.branchDeadlines.Patterns, 100*time.Millisecond), func(c context.Context) branchOutcome {
		return branchOutcome{name: models.ComponentPatterns, patterns: p.engine.Match(c, tx, fingerprint)}
	})
	run(models.ComponentML, orDefault(p.branchDeadlines.ML, 500*time.Millisecond), func(c context.Context) branchOutcome {
		r, err := p.detector.Analyze(c, tx, p.engine.Snapshot(), fingerprint)
		return branchOutcome{name: models.ComponentML, ml: r, err: err}
	})
	run(models.ComponentAccount, orDefault(p.branchDeadlines.Account, 150*time.Millisecond), func(c context.Context) branchOutcome {
		r, err := p.accounts.Analyze(c, tx, userWallet, fingerprint)
		return branchOutcome{name: models.ComponentAccount, account: r, err: err}
	})

	outcomes := make([]branchOutcome, 0, 4)
	for len(outcomes) < 4 {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
		case <-ctx.Done():
			// Pipeline deadline: whatever has not reported is failed.
			reported := make(map[string]bool, len(outcomes))
			for _, o := range outcomes {
				reported[o.name] = true
			}
			for _, name := range []string{models.ComponentProgram, models.ComponentPatterns, models.ComponentML, models.ComponentAccount} {
				if !reported[name] {
					outcomes = append(outcomes, branchOutcome{name: name, err: ctx.Err()})
				}
			}
			return outcomes
		}
	}
	return outcomes
}

// explain asks the configured Explainer under its own deadline, falling
// back to the deterministic template.
func (p *Pipeline) explain(ctx context.Context, result *models.ScanResult) *models.Explanation {
	if p.explainer == nil {
		return explain.Fallback(&result.Details, result.RiskLevel, result.RiskScore)
	}
	explainCtx, cancel := context.WithTimeout(ctx, p.explainerDeadline)
	defer cancel()
	out, err := p.explainer.Explain(explainCtx, &result.Details, result.RiskLevel, result.RiskScore, "")
	if err != nil {
		log.Printf("[Pipeline] Explainer miss (%v); using deterministic template", err)
		return explain.Fallback(&result.Details, result.RiskLevel, result.RiskScore)
	}
	return out
}

// emit enqueues the analytics event. Enqueue happens before Scan
// returns; delivery is asynchronous.
func (p *Pipeline) emit(result *models.ScanResult, tx *models.ParsedTransaction, req Request) {
	if p.emitter == nil {
		return
	}
	matches := 0
	if result.Details.PatternAnalysis != nil {
		matches = result.Details.PatternAnalysis.TotalMatches
	}
	p.emitter.Enqueue(models.ScanEvent{
		ScanID:              result.ScanID,
		UserWallet:          req.UserWallet,
		RiskLevel:           result.RiskLevel,
		RiskScore:           result.RiskScore,
		Confidence:          result.Confidence,
		ScanTimeMs:          result.ScanTimeMs,
		ProgramCount:        len(tx.UniquePrograms()),
		InstructionCount:    len(tx.Instructions),
		PatternMatchesCount: matches,
		ScanType:            req.ScanType,
		Timestamp:           result.Timestamp,
	})
}

// unparseableResult is the verdict for input the parser rejected: never
// SAFE, low confidence, no analyzer details.
func (p *Pipeline) unparseableResult(start time.Time) *models.ScanResult {
	return &models.ScanResult{
		ScanID:              uuid.New().String(),
		RiskLevel:           models.RiskCaution,
		RiskScore:           40,
		Confidence:          0.3,
		Explanation:         "The transaction could not be decoded, so no analysis was possible.",
		Recommendation:      "Do not sign a transaction that cannot be inspected.",
		ComponentTimes:      map[string]float64{},
		CompletedComponents: []string{},
		FailedComponents: []string{
			models.ComponentProgram, models.ComponentPatterns,
			models.ComponentML, models.ComponentAccount,
		},
		ScanTimeMs: msSince(start),
		Timestamp:  time.Now().UTC(),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
