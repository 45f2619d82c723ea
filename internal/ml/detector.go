package ml

import (
	"context"
	"errors"
	"log"
	"math"

	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Anomaly Detector
//
// Three layers, strongest wins:
//
//   1. Model scoring — calibrate the raw decision-function output into
//      an anomaly probability p:
//        outlier:  p = clip(0.8 + |raw|×0.2, 0.6, 1.0)
//        inlier:   p = clip(0.2 + |raw|×0.1, 0.0, 0.4)
//   2. Rule validator — hand-written shapes the model must never miss
//      (wallet-drainer layout, approval toward fresh accounts). A hit
//      forces p ≥ 0.9 and the Malicious classification.
//   3. Rule-only fallback — when no model loaded, an additive score
//      over the same features, confidence capped at 0.92.
//
// Classification bands over p:
//        p > 0.85  Malicious   conf = clip(0.85 + (p−0.85)×0.87, 0.85, 0.98)
//   0.65 < p ≤ 0.85 Suspicious conf = clip(0.70 + (p−0.65)×1.00, 0.70, 0.90)
//   0.35 < p ≤ 0.65 Suspicious conf = clip(0.60 + (p−0.35)×0.50, 0.60, 0.75)
//        p ≤ 0.35  Normal      conf = clip(0.80 + (0.35−p)×0.43, 0.80, 0.95)
// ──────────────────────────────────────────────────────────────────────

const fallbackConfidenceCap = 0.92

// Rule validator override names.
const (
	overrideDrainerShape    = "drainer_shape"
	overrideApprovalSpray   = "approval_toward_new_accounts"
	overrideApprovalStacked = "stacked_unlimited_approvals"
)

// ErrNoModel fails the ML branch when neither the model nor the rule
// fallback is available.
var ErrNoModel = errors.New("no anomaly model loaded and rule fallback disabled")

// Detector scores transactions with the loaded model, or rules alone
// when no model is available.
type Detector struct {
	model           *Model // nil = rule-only mode
	fallbackEnabled bool
	cache           *cache.Service
}

// NewDetector loads the model at path (empty = embedded default). When
// loading fails and fallbackEnabled is set, the detector runs rule-only;
// otherwise the ML branch fails every scan until a model is provided.
func NewDetector(path string, fallbackEnabled bool, cacheSvc *cache.Service) *Detector {
	d := &Detector{fallbackEnabled: fallbackEnabled, cache: cacheSvc}
	model, err := LoadModel(path)
	if err != nil {
		if fallbackEnabled {
			log.Printf("[ML] FALLBACK: model load failed (%v); running rule-only", err)
		} else {
			log.Printf("[ML] Model load failed (%v) and rule fallback is disabled; ML branch will fail", err)
		}
		return d
	}
	d.model = model
	log.Printf("[ML] Anomaly model v%d ready (%d trees, sample size %d)",
		model.Version, len(model.Trees), model.SampleSize)
	return d
}

// ModelLoaded reports whether model scoring is active.
func (d *Detector) ModelLoaded() bool {
	return d.model != nil
}

// Analyze scores one transaction. fingerprint keys the prediction cache.
func (d *Detector) Analyze(ctx context.Context, tx *models.ParsedTransaction, snap *patterns.Snapshot, fingerprint string) (*models.MLAnalysis, error) {
	if d.cache != nil {
		var cached models.MLAnalysis
		if d.cache.GetJSON(ctx, cache.NSMLPredictions, fingerprint, &cached) {
			return &cached, nil
		}
	}

	features := ExtractFeatures(tx, snap)

	var result *models.MLAnalysis
	switch {
	case d.model != nil:
		result = d.scoreWithModel(features)
	case d.fallbackEnabled:
		result = d.scoreWithRules(features)
	default:
		return nil, ErrNoModel
	}

	if name := ruleValidator(features); name != "" {
		if result.AnomalyScore < 0.9 {
			result.AnomalyScore = 0.9
		}
		result.IsOutlier = true
		result.RuleOverride = name
		result.Classification, result.Confidence = classify(result.AnomalyScore)
	}

	if d.cache != nil {
		d.cache.SetJSON(ctx, cache.NSMLPredictions, fingerprint, result)
	}
	return result, nil
}

func (d *Detector) scoreWithModel(features [FeatureCount]float64) *models.MLAnalysis {
	raw, outlier := d.model.Score(features)

	var p float64
	if outlier {
		p = clip(0.8+math.Abs(raw)*0.2, 0.6, 1.0)
	} else {
		p = clip(0.2+math.Abs(raw)*0.1, 0.0, 0.4)
	}

	classification, confidence := classify(p)
	return &models.MLAnalysis{
		Classification: classification,
		AnomalyScore:   p,
		RawScore:       raw,
		Confidence:     confidence,
		IsOutlier:      outlier,
		ModelUsed:      true,
	}
}

// scoreWithRules is the additive rule-only scorer. Each structural
// oddity contributes a fixed increment; the result feeds the same
// classification bands as the model path.
func (d *Detector) scoreWithRules(features [FeatureCount]float64) *models.MLAnalysis {
	p := 0.1
	if features[fUnknownProgramCount] > 2 {
		p += 0.25
	}
	if features[fApprovalMarkerCount] > 0 {
		p += 0.25
	}
	if features[fManyInstructionsFlag] > 0 {
		p += 0.15
	}
	if features[fManyAccountsFlag] > 0 {
		p += 0.1
	}
	if features[fNewAccountCount] > 0 {
		p += 0.1
	}
	if features[fHighComplexityFlag] > 0 {
		p += 0.1
	}
	if features[fComplexInstructionCount] > 2 {
		p += 0.05
	}
	p = clip(p, 0.0, 1.0)

	classification, confidence := classify(p)
	if confidence > fallbackConfidenceCap {
		confidence = fallbackConfidenceCap
	}
	return &models.MLAnalysis{
		Classification: classification,
		AnomalyScore:   p,
		RawScore:       0,
		Confidence:     confidence,
		IsOutlier:      p > 0.5,
		ModelUsed:      false,
	}
}

// ruleValidator checks the shapes the model is not trusted to catch on
// its own. Returns the override name, or "".
func ruleValidator(features [FeatureCount]float64) string {
	if features[fProgramCount] >= 4 && features[fInstructionCount] >= 8 && features[fAccountCount] >= 15 {
		return overrideDrainerShape
	}
	if features[fApprovalMarkerCount] > 0 && features[fNewAccountCount] > 0 {
		return overrideApprovalSpray
	}
	if features[fApprovalMarkerCount] >= 3 {
		return overrideApprovalStacked
	}
	return ""
}

// classify maps the calibrated anomaly probability into a class and a
// band-local confidence.
func classify(p float64) (models.MLClassification, float64) {
	switch {
	case p > 0.85:
		return models.MLMalicious, clip(0.85+(p-0.85)*0.87, 0.85, 0.98)
	case p > 0.65:
		return models.MLSuspicious, clip(0.70+(p-0.65)*1.00, 0.70, 0.90)
	case p > 0.35:
		return models.MLSuspicious, clip(0.60+(p-0.35)*0.50, 0.60, 0.75)
	default:
		return models.MLNormal, clip(0.80+(0.35-p)*0.43, 0.80, 0.95)
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
