package scorer

import (
	"testing"

	"github.com/rawblock/txguard-engine/pkg/models"
)

func TestScore_BlocklistShortCircuit(t *testing.T) {
	in := &Input{
		Program: &models.ProgramAnalysis{Total: 1, Blocklisted: 1},
		ML:      &models.MLAnalysis{Classification: models.MLNormal, Confidence: 0.5},
	}

	v := Score(in)

	if v.RiskScore != 100 {
		t.Errorf("Expected risk score 100. Got: %d", v.RiskScore)
	}
	if v.RiskLevel != models.RiskDanger {
		t.Errorf("Expected DANGER. Got: %s", v.RiskLevel)
	}
	if v.Confidence < 0.9 {
		t.Errorf("Expected the 0.9 confidence floor. Got: %f", v.Confidence)
	}
}

func TestScore_CriticalPatternShortCircuit(t *testing.T) {
	// The program branch timed out; the critical hit alone must force the
	// maximum verdict instead of scoring through the capped pattern band.
	in := &Input{
		Patterns: &models.PatternAnalysis{
			CriticalHit:  true,
			TotalMatches: 1,
			Matches: []models.PatternMatch{{
				PatternID:  "builtin-drainer-001",
				Kind:       models.KindCriticalProgram,
				Severity:   models.SeverityCritical,
				Confidence: 0.98,
			}},
		},
	}

	v := Score(in)

	if v.RiskScore != 100 {
		t.Errorf("Expected risk score 100. Got: %d", v.RiskScore)
	}
	if v.RiskLevel != models.RiskDanger {
		t.Errorf("Expected DANGER. Got: %s", v.RiskLevel)
	}
	if v.Confidence < 0.9 {
		t.Errorf("Expected the 0.9 confidence floor. Got: %f", v.Confidence)
	}
}

func TestScore_SafeTransaction(t *testing.T) {
	in := &Input{
		Program:  &models.ProgramAnalysis{Total: 1, Verified: 1},
		Patterns: &models.PatternAnalysis{Matches: []models.PatternMatch{}},
		ML: &models.MLAnalysis{
			Classification: models.MLNormal,
			AnomalyScore:   0.2,
			Confidence:     0.85,
		},
		Account: &models.AccountAnalysis{RedFlags: []string{}},
	}

	v := Score(in)

	if v.RiskLevel != models.RiskSafe {
		t.Errorf("Expected SAFE. Got: %s (score %d)", v.RiskLevel, v.RiskScore)
	}
	if v.RiskScore >= 30 {
		t.Errorf("Expected risk score below 30. Got: %d", v.RiskScore)
	}
}

func TestScore_PatternBandCapped(t *testing.T) {
	matches := make([]models.PatternMatch, 10)
	for i := range matches {
		matches[i] = models.PatternMatch{
			PatternID:  "p",
			Severity:   models.SeverityCritical,
			Confidence: 0.99,
		}
	}
	in := &Input{
		Program:  &models.ProgramAnalysis{Total: 1, Verified: 1},
		Patterns: &models.PatternAnalysis{Matches: matches},
		ML:       &models.MLAnalysis{Classification: models.MLNormal, AnomalyScore: 0.1, Confidence: 0.9},
		Account:  &models.AccountAnalysis{RedFlags: []string{}},
	}

	v := Score(in)

	// P caps at 35, M ≈ 0.9, Pr = 0, A = 0, tc > 0.9 → ×1.1
	if v.RiskScore > 45 {
		t.Errorf("Expected the pattern band cap to hold the score down. Got: %d", v.RiskScore)
	}
	if v.RiskLevel != models.RiskCaution {
		t.Errorf("Expected CAUTION from a capped pattern band. Got: %s", v.RiskLevel)
	}
}

func TestScore_DegradationFloor(t *testing.T) {
	in := &Input{
		Program: &models.ProgramAnalysis{Total: 1, Verified: 1},
		Account: &models.AccountAnalysis{RedFlags: []string{}},
		// Patterns and ML failed.
	}

	v := Score(in)

	if v.RiskScore < 40 {
		t.Errorf("Expected the 40-point floor with two failed branches. Got: %d", v.RiskScore)
	}
	if v.RiskLevel == models.RiskSafe {
		t.Error("Expected a degraded scan never to report SAFE")
	}
	// completed/4 × default ml confidence = 0.5 × 0.5 → clipped to 0.3
	if v.Confidence > 0.6 {
		t.Errorf("Expected low confidence on a degraded scan. Got: %f", v.Confidence)
	}
}

func TestScore_BandingInvariant(t *testing.T) {
	cases := []struct {
		score int
		level models.RiskLevel
	}{
		{0, models.RiskSafe}, {29, models.RiskSafe},
		{30, models.RiskCaution}, {69, models.RiskCaution},
		{70, models.RiskDanger}, {100, models.RiskDanger},
	}
	for _, c := range cases {
		if got := models.RiskLevelForScore(c.score); got != c.level {
			t.Errorf("Score %d: expected %s. Got: %s", c.score, c.level, got)
		}
	}
}

func TestScore_ConfidenceBounds(t *testing.T) {
	inputs := []*Input{
		{},
		{ML: &models.MLAnalysis{Classification: models.MLMalicious, AnomalyScore: 1, Confidence: 0.98}},
		{
			Program:  &models.ProgramAnalysis{Total: 3, Unknown: 3},
			Patterns: &models.PatternAnalysis{Matches: []models.PatternMatch{{Severity: models.SeverityCritical, Confidence: 0.99}}},
			ML:       &models.MLAnalysis{Classification: models.MLMalicious, AnomalyScore: 1, Confidence: 0.98},
			Account:  &models.AccountAnalysis{RedFlags: []string{"unlimited_approval"}, UnlimitedApprovals: true, UserAtRisk: true},
		},
	}
	for i, in := range inputs {
		v := Score(in)
		if v.Confidence < 0.3 || v.Confidence > 0.99 {
			t.Errorf("Input %d: confidence out of [0.3, 0.99]. Got: %f", i, v.Confidence)
		}
		if v.RiskScore < 0 || v.RiskScore > 100 {
			t.Errorf("Input %d: risk score out of [0, 100]. Got: %d", i, v.RiskScore)
		}
	}
}

func TestScore_AccountBand(t *testing.T) {
	in := &Input{
		Program:  &models.ProgramAnalysis{Total: 1, Verified: 1},
		Patterns: &models.PatternAnalysis{Matches: []models.PatternMatch{}},
		ML:       &models.MLAnalysis{Classification: models.MLNormal, AnomalyScore: 0.1, Confidence: 0.9},
		Account: &models.AccountAnalysis{
			RedFlags:           []string{"unlimited_approval", "authority_change"},
			UnlimitedApprovals: true,
			AuthorityChanges:   true,
			UserAtRisk:         true,
		},
	}

	v := Score(in)

	// A = min(8 + 6 + 4 + 2×2, 15) = 15; red flags drop tc below the 1.1 band.
	if v.RiskScore < 10 {
		t.Errorf("Expected the account band to contribute. Got: %d", v.RiskScore)
	}
}

func TestFallbackScore(t *testing.T) {
	in := &Input{
		Patterns: &models.PatternAnalysis{Matches: []models.PatternMatch{{PatternID: "p"}}},
		ML:       &models.MLAnalysis{AnomalyScore: 0.5},
		Program:  &models.ProgramAnalysis{Unknown: 2},
		Account:  &models.AccountAnalysis{RedFlags: []string{"unlimited_approval"}},
	}

	// 30 + 20×1 + 30×0.5 + 10×2 + 5×1 = 90
	if got := fallbackScore(in); got != 90 {
		t.Errorf("Expected fallback score 90. Got: %d", got)
	}

	if got := fallbackScore(&Input{}); got != 30 {
		t.Errorf("Expected bare fallback score 30. Got: %d", got)
	}
}
