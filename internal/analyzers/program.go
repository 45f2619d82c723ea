package analyzers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Program Analyzer
//
// Classifies every program a transaction invokes against the catalogue
// snapshot's verified and blocklisted sets; everything else is unknown.
// Per-program risk: verified 0, unknown 30, blocklisted 100. The result
// is cached under a key derived from the sorted program set, so any
// transaction touching the same programs shares the classification.
// ──────────────────────────────────────────────────────────────────────

const (
	riskVerified    = 0
	riskUnknown     = 30
	riskBlocklisted = 100

	reputationVerified    = 0.9
	reputationUnknown     = 0.4
	reputationBlocklisted = 0.0
)

type ProgramAnalyzer struct {
	engine *patterns.Engine
	cache  *cache.Service // nil disables caching
}

func NewProgramAnalyzer(engine *patterns.Engine, cacheSvc *cache.Service) *ProgramAnalyzer {
	return &ProgramAnalyzer{engine: engine, cache: cacheSvc}
}

// Analyze classifies the program set of one transaction.
func (a *ProgramAnalyzer) Analyze(ctx context.Context, tx *models.ParsedTransaction) (*models.ProgramAnalysis, error) {
	programs := tx.UniquePrograms()
	key := programSetKey(programs)

	if a.cache != nil {
		var cached models.ProgramAnalysis
		if a.cache.GetJSON(ctx, cache.NSProgramAnalysis, key, &cached) {
			return &cached, nil
		}
	}

	snap := a.engine.Snapshot()
	result := &models.ProgramAnalysis{
		Total:        len(programs),
		RiskPrograms: []string{},
		Details:      make([]models.ProgramDetail, 0, len(programs)),
	}

	for _, program := range programs {
		detail := models.ProgramDetail{ProgramID: program}
		switch {
		case snap.Blocklisted[program]:
			detail.IsBlocklisted = true
			detail.RiskScore = riskBlocklisted
			detail.ReputationScore = reputationBlocklisted
			result.Blocklisted++
			result.RiskPrograms = append(result.RiskPrograms, program)
		case snap.Verified[program]:
			detail.IsVerified = true
			detail.RiskScore = riskVerified
			detail.ReputationScore = reputationVerified
			result.Verified++
		default:
			detail.RiskScore = riskUnknown
			detail.ReputationScore = reputationUnknown
			result.Unknown++
			result.RiskPrograms = append(result.RiskPrograms, program)
		}
		result.Details = append(result.Details, detail)
	}

	if a.cache != nil {
		a.cache.SetJSON(ctx, cache.NSProgramAnalysis, key, result)
	}
	return result, nil
}

// programSetKey hashes the sorted program set into a stable cache key.
func programSetKey(programs []string) string {
	sorted := append([]string(nil), programs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:16])
}
