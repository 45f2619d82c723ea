package ml

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rawblock/txguard-engine/pkg/models"
)

func benignTx() *models.ParsedTransaction {
	return &models.ParsedTransaction{
		Programs: []string{models.SystemProgramID},
		Instructions: []models.Instruction{
			{Index: 0, DataHex: "02", DataLength: 1, AccountIndexes: []int{0, 1}},
		},
		Accounts:           []string{models.SystemProgramID, models.TokenProgramID},
		SignaturesRequired: 1,
	}
}

func drainerShapeTx() *models.ParsedTransaction {
	accounts := make([]string, 16)
	for i := range accounts {
		accounts[i] = strings.Repeat("A", 40)
	}
	instructions := make([]models.Instruction, 9)
	for i := range instructions {
		instructions[i] = models.Instruction{Index: i, DataHex: "00", DataLength: 1}
	}
	return &models.ParsedTransaction{
		Programs:     []string{"p1", "p2", "p3", "p4"},
		Instructions: instructions,
		Accounts:     accounts,
	}
}

func TestLoadModel_EmbeddedDefault(t *testing.T) {
	model, err := LoadModel("")
	if err != nil {
		t.Fatalf("Expected the embedded model to load. Got: %v", err)
	}
	if len(model.Trees) == 0 {
		t.Fatal("Expected at least one tree")
	}
	if len(model.Mean) != FeatureCount || len(model.Std) != FeatureCount {
		t.Errorf("Expected %d-wide standardizer. Got: mean=%d std=%d",
			FeatureCount, len(model.Mean), len(model.Std))
	}
}

func TestModelScore_BenignIsInlier(t *testing.T) {
	model, err := LoadModel("")
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	features := ExtractFeatures(benignTx(), nil)
	raw, outlier := model.Score(features)
	if outlier {
		t.Errorf("Expected a plain transfer to score as an inlier. Got raw: %f", raw)
	}
}

func TestClassify_Bands(t *testing.T) {
	cases := []struct {
		p     float64
		class models.MLClassification
	}{
		{0.95, models.MLMalicious},
		{0.86, models.MLMalicious},
		{0.85, models.MLSuspicious},
		{0.70, models.MLSuspicious},
		{0.50, models.MLSuspicious},
		{0.35, models.MLNormal},
		{0.05, models.MLNormal},
	}
	for _, c := range cases {
		class, conf := classify(c.p)
		if class != c.class {
			t.Errorf("p=%.2f: expected %s. Got: %s", c.p, c.class, class)
		}
		if conf < 0.60 || conf > 0.98 {
			t.Errorf("p=%.2f: confidence out of expected range. Got: %f", c.p, conf)
		}
	}
}

func TestExtractFeatures_EmptyTransaction(t *testing.T) {
	v := ExtractFeatures(&models.ParsedTransaction{}, nil)
	for i, f := range v {
		if f != 0 {
			t.Errorf("Feature %d: expected 0 for an empty transaction. Got: %f", i, f)
		}
	}
}

func TestExtractFeatures_ApprovalAndFlags(t *testing.T) {
	tx := &models.ParsedTransaction{
		Programs: []string{models.TokenProgramID},
		Instructions: []models.Instruction{
			{Index: 0, DataHex: "04" + models.UnlimitedApprovalMarker, DataLength: 9},
			{Index: 1, DataHex: "04" + models.UnlimitedApprovalMarker, DataLength: 9},
		},
		Accounts: []string{strings.Repeat("B", 40), "newacct"},
	}

	v := ExtractFeatures(tx, nil)

	if v[fApprovalMarkerCount] != 2 {
		t.Errorf("Expected 2 approval markers. Got: %f", v[fApprovalMarkerCount])
	}
	if v[fHasTokenProgram] != 1 {
		t.Error("Expected the token-program flag to be set")
	}
	if v[fNewAccountCount] != 1 {
		t.Errorf("Expected 1 short (fresh) account. Got: %f", v[fNewAccountCount])
	}
}

func TestAnalyze_RuleOnlyFallback(t *testing.T) {
	d := &Detector{fallbackEnabled: true}

	result, err := d.Analyze(context.Background(), benignTx(), nil, "fp-rule-only")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.ModelUsed {
		t.Error("Expected the rule-only path")
	}
	if result.Confidence > fallbackConfidenceCap {
		t.Errorf("Expected rule-only confidence capped at %.2f. Got: %f",
			fallbackConfidenceCap, result.Confidence)
	}
	if result.Classification != models.MLNormal {
		t.Errorf("Expected a plain transfer classified Normal. Got: %s", result.Classification)
	}
}

func TestAnalyze_NoModelNoFallback(t *testing.T) {
	d := &Detector{}

	_, err := d.Analyze(context.Background(), benignTx(), nil, "fp-none")
	if !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel. Got: %v", err)
	}
}

func TestAnalyze_DrainerShapeOverride(t *testing.T) {
	d := &Detector{fallbackEnabled: true}

	result, err := d.Analyze(context.Background(), drainerShapeTx(), nil, "fp-drainer")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.RuleOverride != overrideDrainerShape {
		t.Errorf("Expected the drainer_shape override. Got: %q", result.RuleOverride)
	}
	if result.AnomalyScore < 0.9 {
		t.Errorf("Expected the override to force anomaly score >= 0.9. Got: %f", result.AnomalyScore)
	}
	if !result.IsOutlier {
		t.Error("Expected the override to mark the transaction an outlier")
	}
	if result.Classification != models.MLMalicious {
		t.Errorf("Expected Malicious after the override. Got: %s", result.Classification)
	}
}

func TestRuleValidator_StackedApprovals(t *testing.T) {
	var features [FeatureCount]float64
	features[fApprovalMarkerCount] = 3

	if got := ruleValidator(features); got != overrideApprovalStacked {
		t.Errorf("Expected the stacked-approvals override. Got: %q", got)
	}
}

func TestRuleValidator_ApprovalTowardNewAccounts(t *testing.T) {
	var features [FeatureCount]float64
	features[fApprovalMarkerCount] = 1
	features[fNewAccountCount] = 2

	if got := ruleValidator(features); got != overrideApprovalSpray {
		t.Errorf("Expected the approval-toward-new-accounts override. Got: %q", got)
	}
}
