package scorer

import (
	"log"
	"math"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Risk Scorer
//
// Fuses the four analyzer reports into (risk_score, risk_level,
// confidence). A nil report means that branch failed or timed out; it
// contributes nothing to the fusion except through the degradation
// floor.
//
//   Short-circuit   any blocklisted program or critical pattern hit
//                   → (100, DANGER, ≥0.9)
//   Weighted fusion score = clip(P + M + Pr + A, 0, 100) × mult
//   Degradation     ≥2 of 4 branches failed → score floor 40
//   Banding         ≥70 DANGER, ≥30 CAUTION, else SAFE
//   Confidence      clip(completed/4 × ml_confidence, 0.3, 0.99)
//
// A panic anywhere in the weighted path is recovered and routed to the
// additive fallback scorer, so a verdict is always produced.
// ──────────────────────────────────────────────────────────────────────

// Band caps.
const (
	patternCap = 35.0
	mlCap      = 30.0
	programCap = 20.0
	accountCap = 15.0
)

// Severity weights for the pattern band.
var sevWeight = map[models.Severity]float64{
	models.SeverityCritical: 35,
	models.SeverityHigh:     25,
	models.SeverityMedium:   15,
	models.SeverityLow:      8,
}

// ML base by classification.
var mlBase = map[models.MLClassification]float64{
	models.MLMalicious:  30,
	models.MLSuspicious: 20,
	models.MLNormal:     10,
}

// defaultMLConfidence stands in for ml_confidence when the ML branch
// failed. Chosen low so partial scans report honest uncertainty.
const defaultMLConfidence = 0.5

// Input carries the four reports. Nil = branch failed.
type Input struct {
	Program  *models.ProgramAnalysis
	Patterns *models.PatternAnalysis
	ML       *models.MLAnalysis
	Account  *models.AccountAnalysis
}

// CompletedCount reports how many branches produced a result.
func (in *Input) CompletedCount() int {
	n := 0
	if in.Program != nil {
		n++
	}
	if in.Patterns != nil {
		n++
	}
	if in.ML != nil {
		n++
	}
	if in.Account != nil {
		n++
	}
	return n
}

// Verdict is the scorer's output.
type Verdict struct {
	RiskScore  int
	RiskLevel  models.RiskLevel
	Confidence float64
	Fallback   bool // additive fallback scorer was used
}

// Score produces the final verdict. Never panics.
func Score(in *Input) Verdict {
	mlConf := defaultMLConfidence
	if in.ML != nil {
		mlConf = in.ML.Confidence
	}

	// Blocklisted program wins over everything else. A critical pattern
	// hit carries the same force even when the program branch is missing:
	// without it, a timed-out program analyzer would let a known drainer
	// score through the capped pattern band.
	blocklisted := in.Program != nil && in.Program.Blocklisted > 0
	criticalHit := in.Patterns != nil && in.Patterns.CriticalHit
	if blocklisted || criticalHit {
		return Verdict{
			RiskScore:  100,
			RiskLevel:  models.RiskDanger,
			Confidence: clipf(math.Max(mlConf, 0.9), 0.3, 0.99),
		}
	}

	score, fallback := weightedScore(in, mlConf)

	if 4-in.CompletedCount() >= 2 && score < 40 {
		score = 40
	}

	confidence := clipf(float64(in.CompletedCount())/4.0*mlConf, 0.3, 0.99)
	return Verdict{
		RiskScore:  score,
		RiskLevel:  models.RiskLevelForScore(score),
		Confidence: confidence,
		Fallback:   fallback,
	}
}

// weightedScore runs the band fusion, recovering a panic into the
// fallback scorer.
func weightedScore(in *Input, mlConf float64) (score int, fallback bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scorer] PANIC in weighted fusion (%v); using fallback scorer", r)
			score = fallbackScore(in)
			fallback = true
		}
	}()

	p := 0.0
	patternsHit := false
	if in.Patterns != nil {
		for _, m := range in.Patterns.Matches {
			p += sevWeight[m.Severity] * m.Confidence
		}
		patternsHit = len(in.Patterns.Matches) > 0
	}
	p = math.Min(p, patternCap)

	m := 0.0
	if in.ML != nil {
		m = math.Min(mlBase[in.ML.Classification]*in.ML.AnomalyScore*in.ML.Confidence, mlCap)
	}

	pr := 0.0
	verifiedRatio := 0.0
	if in.Program != nil && in.Program.Total > 0 {
		unknownRatio := float64(in.Program.Unknown) / float64(in.Program.Total)
		verifiedRatio = float64(in.Program.Verified) / float64(in.Program.Total)
		pr = math.Min(15*unknownRatio+math.Max(0, 5-5*verifiedRatio), programCap)
	}

	a := 0.0
	redFlags := 0
	if in.Account != nil {
		redFlags = len(in.Account.RedFlags)
		if in.Account.UnlimitedApprovals {
			a += 8
		}
		if in.Account.AuthorityChanges {
			a += 6
		}
		if in.Account.UserAtRisk {
			a += 4
		}
		a += 2 * float64(redFlags)
		a = math.Min(a, accountCap)
	}

	total := clipf(p+m+pr+a, 0, 100)

	tc := 0.4 * mlConf
	if patternsHit {
		tc += 0.3
	}
	if verifiedRatio > 0.5 {
		tc += 0.2
	}
	if redFlags == 0 {
		tc += 0.1
	}

	mult := 1.0
	switch {
	case tc < 0.7:
		mult = 0.8
	case tc > 0.9:
		mult = 1.1
	}

	return int(clipf(math.Round(total*mult), 0, 100)), false
}

// fallbackScore is the additive last-resort scorer.
func fallbackScore(in *Input) int {
	score := 30.0
	if in.Patterns != nil {
		score += 20 * float64(len(in.Patterns.Matches))
	}
	if in.ML != nil {
		score += 30 * in.ML.AnomalyScore
	}
	if in.Program != nil {
		score += 10 * float64(in.Program.Unknown)
	}
	if in.Account != nil {
		score += 5 * float64(len(in.Account.RedFlags))
	}
	return int(clipf(score, 0, 100))
}

func clipf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
