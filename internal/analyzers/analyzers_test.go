package analyzers

import (
	"context"
	"strings"
	"testing"

	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/pkg/models"
)

func testEngine(t *testing.T) *patterns.Engine {
	t.Helper()
	pats, verified, blocklisted := patterns.BuiltinCatalogue()
	return patterns.NewEngine(&patterns.StaticLoader{Catalogue: &patterns.Catalogue{
		Patterns:            pats,
		VerifiedPrograms:    verified,
		BlocklistedPrograms: blocklisted,
	}}, nil, 200)
}

func TestProgramAnalyzer_Classification(t *testing.T) {
	a := NewProgramAnalyzer(testEngine(t), nil)
	tx := &models.ParsedTransaction{
		Programs: []string{
			models.SystemProgramID, // verified
			"Unknown1111111111111111111111111111111111",
			"DrainWa11etProgramId123456789012345678901", // blocklisted
		},
	}

	result, err := a.Analyze(context.Background(), tx)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.Total != 3 {
		t.Errorf("Expected 3 programs. Got: %d", result.Total)
	}
	if result.Verified != 1 || result.Unknown != 1 || result.Blocklisted != 1 {
		t.Errorf("Expected 1/1/1 verified/unknown/blocklisted. Got: %d/%d/%d",
			result.Verified, result.Unknown, result.Blocklisted)
	}
	if len(result.RiskPrograms) != 2 {
		t.Errorf("Expected unknown+blocklisted in risk programs. Got: %v", result.RiskPrograms)
	}

	for _, d := range result.Details {
		switch d.ProgramID {
		case models.SystemProgramID:
			if d.RiskScore != 0 || !d.IsVerified {
				t.Errorf("Expected verified program at risk 0. Got: %+v", d)
			}
		case "Unknown1111111111111111111111111111111111":
			if d.RiskScore != 30 {
				t.Errorf("Expected unknown program at risk 30. Got: %+v", d)
			}
		default:
			if d.RiskScore != 100 || !d.IsBlocklisted {
				t.Errorf("Expected blocklisted program at risk 100. Got: %+v", d)
			}
		}
	}
}

func TestProgramAnalyzer_EmptyProgramSet(t *testing.T) {
	a := NewProgramAnalyzer(testEngine(t), nil)

	result, err := a.Analyze(context.Background(), &models.ParsedTransaction{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Total != 0 || len(result.RiskPrograms) != 0 {
		t.Errorf("Expected an empty classification. Got: %+v", result)
	}
}

func TestProgramSetKey_OrderInsensitive(t *testing.T) {
	a := programSetKey([]string{"x", "y", "z"})
	b := programSetKey([]string{"z", "x", "y"})
	if a != b {
		t.Errorf("Expected order-insensitive key. Got: %s vs %s", a, b)
	}
	if a == programSetKey([]string{"x", "y"}) {
		t.Error("Expected different program sets to key differently")
	}
}

func TestAccountAnalyzer_UnlimitedApproval(t *testing.T) {
	wallet := strings.Repeat("W", 40)
	a := NewAccountAnalyzer(200, nil)
	tx := &models.ParsedTransaction{
		Instructions: []models.Instruction{
			{Index: 0, DataHex: "04" + models.UnlimitedApprovalMarker, DataLength: 9},
		},
		Accounts: []string{wallet, strings.Repeat("B", 40)},
	}

	result, err := a.Analyze(context.Background(), tx, wallet, "fp-approve")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if !result.UnlimitedApprovals {
		t.Error("Expected the unlimited-approval flag")
	}
	if !result.UserAtRisk {
		t.Error("Expected user_at_risk when the caller's wallet is in the account table")
	}
	if len(result.RedFlags) != 1 || result.RedFlags[0] != flagUnlimitedApproval {
		t.Errorf("Expected one unlimited_approval red flag. Got: %v", result.RedFlags)
	}
}

func TestAccountAnalyzer_AuthorityChange(t *testing.T) {
	a := NewAccountAnalyzer(200, nil)
	tx := &models.ParsedTransaction{
		Instructions: []models.Instruction{
			{Index: 0, DataHex: "aa", DataLength: 300},
		},
		Accounts: []string{strings.Repeat("B", 40)},
	}

	result, err := a.Analyze(context.Background(), tx, "", "fp-authority")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if !result.AuthorityChanges {
		t.Error("Expected the authority-change flag past the data threshold")
	}
	if result.UserAtRisk {
		t.Error("Expected no user_at_risk without a wallet")
	}
}

func TestAccountAnalyzer_SuspiciousCombinations(t *testing.T) {
	a := NewAccountAnalyzer(200, nil)
	tx := &models.ParsedTransaction{
		Instructions: []models.Instruction{
			{Index: 0, DataHex: "04" + models.UnlimitedApprovalMarker, DataLength: 300},
		},
		Accounts: []string{"fresh"},
	}

	result, err := a.Analyze(context.Background(), tx, "", "fp-combo")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	want := map[string]bool{
		"approval_with_authority_change": false,
		"approval_toward_new_accounts":   false,
	}
	for _, p := range result.SuspiciousPatterns {
		want[p] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("Expected suspicious pattern %q. Got: %v", name, result.SuspiciousPatterns)
		}
	}
	if result.NewAccounts != 1 {
		t.Errorf("Expected 1 short account counted as new. Got: %d", result.NewAccounts)
	}
}

func TestAccountAnalyzer_CleanTransaction(t *testing.T) {
	a := NewAccountAnalyzer(200, nil)
	tx := &models.ParsedTransaction{
		Instructions: []models.Instruction{{Index: 0, DataHex: "02", DataLength: 1}},
		Accounts:     []string{strings.Repeat("B", 40)},
	}

	result, err := a.Analyze(context.Background(), tx, strings.Repeat("B", 40), "fp-clean")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(result.RedFlags) != 0 || result.UserAtRisk {
		t.Errorf("Expected no flags for a plain transfer. Got: %+v", result)
	}
}
