package patterns

import (
	"strings"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// TxMetrics is the coarse metrics record behavioral and account-pattern
// rules evaluate against. Boolean facts are encoded as 0/1 so every rule
// constraint works over plain float64 comparisons.
type TxMetrics map[string]float64

// Metric names recognized by behavioral rules. Rules referencing a name
// outside this set simply never match.
const (
	MetricProgramCount        = "program_count"
	MetricInstructionCount    = "instruction_count"
	MetricAccountCount        = "account_count"
	MetricUniquePrograms      = "unique_programs"
	MetricAvgInstructionSize  = "avg_instruction_size"
	MetricHasTokenTransfers   = "has_token_transfers"
	MetricHasAuthorityChanges = "has_authority_changes"
	MetricComplexityScore     = "complexity_score"
	MetricSignaturesRequired  = "signatures_required"
)

// DeriveMetrics computes the metrics record from a parsed transaction.
// authorityThreshold is the data-byte length above which an instruction
// heuristically looks like an authority/owner delegation.
func DeriveMetrics(tx *models.ParsedTransaction, authorityThreshold int) TxMetrics {
	instructionCount := len(tx.Instructions)
	programCount := len(tx.Programs)
	accountCount := len(tx.Accounts)

	totalData := 0
	hasTransfers := 0.0
	hasAuthority := 0.0
	for _, ins := range tx.Instructions {
		totalData += ins.DataLength
		if strings.HasPrefix(ins.DataHex, models.TransferMarker) ||
			strings.Contains(ins.DataHex, models.UnlimitedApprovalMarker) {
			hasTransfers = 1
		}
		if ins.DataLength > authorityThreshold {
			hasAuthority = 1
		}
	}

	avgSize := 0.0
	if instructionCount > 0 {
		avgSize = float64(totalData) / float64(instructionCount)
	}

	denominator := accountCount
	if denominator < 1 {
		denominator = 1
	}
	complexity := float64(instructionCount*programCount) / float64(denominator)

	return TxMetrics{
		MetricProgramCount:        float64(programCount),
		MetricInstructionCount:    float64(instructionCount),
		MetricAccountCount:        float64(accountCount),
		MetricUniquePrograms:      float64(len(tx.UniquePrograms())),
		MetricAvgInstructionSize:  avgSize,
		MetricHasTokenTransfers:   hasTransfers,
		MetricHasAuthorityChanges: hasAuthority,
		MetricComplexityScore:     complexity,
		MetricSignaturesRequired:  float64(tx.SignaturesRequired),
	}
}

// EvaluateRules reports whether every declared rule of a behavioral
// pattern matches the metrics record. An unknown metric name evaluates as
// "not matched" — never a crash.
func EvaluateRules(rules map[string]models.RuleConstraint, metrics TxMetrics) bool {
	if len(rules) == 0 {
		return false
	}
	for name, constraint := range rules {
		value, known := metrics[name]
		if !known {
			return false
		}
		if !constraint.Matches(value) {
			return false
		}
	}
	return true
}
