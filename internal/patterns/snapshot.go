package patterns

import (
	"log"
	"regexp"
	"sync/atomic"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Pattern Catalogue Snapshot
//
// The catalogue is shared-immutable under a versioned pointer: readers
// grab the current snapshot once per scan and keep it for the whole
// match; a reload builds a fresh snapshot off the hot path and swaps the
// pointer atomically. No reader ever sees a half-built index or a mix of
// old and new patterns.
// ──────────────────────────────────────────────────────────────────────

var snapshotCounter atomic.Int64

// Snapshot is one immutable, fully-indexed version of the catalogue.
type Snapshot struct {
	ID int64

	// Direct-hit tables: program_id -> patterns.
	CriticalByProgram map[string][]*models.ExploitPattern
	ByProgram         map[string][]*models.ExploitPattern

	// Sequentially scanned lists.
	RegexPatterns      []*models.ExploitPattern
	BehavioralPatterns []*models.ExploitPattern
	AccountPatterns    []*models.ExploitPattern

	// Program classification sets consumed by the program analyzer.
	Verified    map[string]bool
	Blocklisted map[string]bool

	// SkippedRegex counts patterns disqualified by a compile failure.
	SkippedRegex int
	PatternCount int
}

// BuildSnapshot indexes a pattern list into a fresh snapshot. Inactive
// patterns are dropped; a pattern whose regex does not compile is skipped
// individually with a warning — the rest of the catalogue loads normally.
func BuildSnapshot(patterns []models.ExploitPattern, verified, blocklisted []string) *Snapshot {
	snap := &Snapshot{
		ID:                snapshotCounter.Add(1),
		CriticalByProgram: make(map[string][]*models.ExploitPattern),
		ByProgram:         make(map[string][]*models.ExploitPattern),
		Verified:          make(map[string]bool, len(verified)),
		Blocklisted:       make(map[string]bool, len(blocklisted)),
	}

	for _, p := range verified {
		snap.Verified[p] = true
	}
	for _, p := range blocklisted {
		snap.Blocklisted[p] = true
	}

	for i := range patterns {
		p := patterns[i] // copy; the snapshot owns its patterns
		if !p.IsActive {
			continue
		}

		switch p.Kind {
		case models.KindCriticalProgram:
			if p.ProgramID == "" {
				continue
			}
			snap.CriticalByProgram[p.ProgramID] = append(snap.CriticalByProgram[p.ProgramID], &p)
			// A critical program is implicitly blocklisted for the
			// program analyzer's short-circuit.
			snap.Blocklisted[p.ProgramID] = true

		case models.KindProgram:
			if p.ProgramID == "" {
				continue
			}
			snap.ByProgram[p.ProgramID] = append(snap.ByProgram[p.ProgramID], &p)

		case models.KindInstructionRegex:
			compiled, err := regexp.Compile(p.InstructionRegex)
			if err != nil {
				log.Printf("[Patterns] Skipping %s: regex %q does not compile: %v", p.PatternID, p.InstructionRegex, err)
				snap.SkippedRegex++
				continue
			}
			p.Compiled = compiled
			snap.RegexPatterns = append(snap.RegexPatterns, &p)

		case models.KindBehavioral:
			if len(p.BehavioralRules) == 0 {
				continue
			}
			snap.BehavioralPatterns = append(snap.BehavioralPatterns, &p)

		case models.KindAccountPattern:
			snap.AccountPatterns = append(snap.AccountPatterns, &p)

		default:
			log.Printf("[Patterns] Skipping %s: unknown kind %q", p.PatternID, p.Kind)
			continue
		}
		snap.PatternCount++
	}

	return snap
}
