package patterns

import "github.com/rawblock/txguard-engine/pkg/models"

// ──────────────────────────────────────────────────────────────────────
// Builtin Minimal Catalogue
//
// The last line of defense: when the configured loader fails, the engine
// serves this hardcoded set rather than scanning blind. It covers the
// highest-signal cases — known drainer programs, the unlimited-approval
// marker, and the classic wallet-drainer transaction shape.
// ──────────────────────────────────────────────────────────────────────

func f64(v float64) *float64 { return &v }

// BuiltinCatalogue returns the fallback patterns plus the baseline
// verified and blocklisted program sets.
func BuiltinCatalogue() ([]models.ExploitPattern, []string, []string) {
	patterns := []models.ExploitPattern{
		{
			PatternID:      "builtin-drainer-001",
			Name:           "Known wallet drainer program",
			Description:    "Program identifier attributed to an active wallet-drainer kit",
			Kind:           models.KindCriticalProgram,
			Severity:       models.SeverityCritical,
			BaseConfidence: 0.98,
			ProgramID:      "DrainWa11etProgramId123456789012345678901",
			IsActive:       true,
		},
		{
			PatternID:      "builtin-fakeairdrop-002",
			Name:           "Fake airdrop claim program",
			Description:    "Program identifier attributed to airdrop-themed phishing campaigns",
			Kind:           models.KindCriticalProgram,
			Severity:       models.SeverityCritical,
			BaseConfidence: 0.95,
			ProgramID:      "FakeAirdropC1aimPr0gram9876543210987654321",
			IsActive:       true,
		},
		{
			PatternID:        "builtin-unlimited-approve-003",
			Name:             "Unlimited token approval",
			Description:      "Instruction data carries the all-ones delegation amount",
			Kind:             models.KindInstructionRegex,
			Severity:         models.SeverityHigh,
			BaseConfidence:   0.85,
			InstructionRegex: models.UnlimitedApprovalMarker,
			IsActive:         true,
		},
		{
			PatternID:      "builtin-drainer-shape-004",
			Name:           "Wallet drainer transaction shape",
			Description:    "Many programs, many instructions and a wide account set in one transaction",
			Kind:           models.KindBehavioral,
			Severity:       models.SeverityHigh,
			BaseConfidence: 0.75,
			BehavioralRules: map[string]models.RuleConstraint{
				MetricProgramCount:     {Min: f64(4)},
				MetricInstructionCount: {Min: f64(8)},
				MetricAccountCount:     {Min: f64(15)},
			},
			IsActive: true,
		},
		{
			PatternID:      "builtin-authority-sweep-005",
			Name:           "Authority change with token movement",
			Description:    "Authority delegation combined with token transfer markers",
			Kind:           models.KindBehavioral,
			Severity:       models.SeverityHigh,
			BaseConfidence: 0.7,
			BehavioralRules: map[string]models.RuleConstraint{
				MetricHasAuthorityChanges: {Equals: f64(1)},
				MetricHasTokenTransfers:   {Equals: f64(1)},
			},
			IsActive: true,
		},
		{
			PatternID:      "builtin-fanout-006",
			Name:           "Excessive account fan-out",
			Description:    "Transaction touches an unusually large account set",
			Kind:           models.KindAccountPattern,
			Severity:       models.SeverityMedium,
			BaseConfidence: 0.6,
			BehavioralRules: map[string]models.RuleConstraint{
				MetricAccountCount: {Min: f64(50)},
			},
			IsActive: true,
		},
	}

	verified := []string{
		models.SystemProgramID,
		models.TokenProgramID,
		"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL", // associated token
		"ComputeBudget111111111111111111111111111111",
		"Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo",
	}

	blocklisted := []string{
		"DrainWa11etProgramId123456789012345678901",
		"FakeAirdropC1aimPr0gram9876543210987654321",
	}

	return patterns, verified, blocklisted
}
