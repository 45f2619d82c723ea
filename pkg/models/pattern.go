package models

import "regexp"

// PatternKind buckets exploit patterns by how they are evaluated.
type PatternKind string

const (
	KindCriticalProgram  PatternKind = "critical_program"
	KindProgram          PatternKind = "program"
	KindInstructionRegex PatternKind = "instruction_regex"
	KindBehavioral       PatternKind = "behavioral"
	KindAccountPattern   PatternKind = "account_pattern"
)

// Severity of an exploit pattern or a match produced from it.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for sorting and threshold checks (higher = worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RuleConstraint is one behavioral-rule clause evaluated against a derived
// transaction metric. Exactly one of Min/Max/Equals is normally set; a bare
// scalar in the catalogue file is normalized into Equals.
type RuleConstraint struct {
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Equals *float64 `json:"equals,omitempty" yaml:"equals,omitempty"`
}

// Matches evaluates the constraint against a metric value.
func (rc RuleConstraint) Matches(value float64) bool {
	if rc.Min != nil && value < *rc.Min {
		return false
	}
	if rc.Max != nil && value > *rc.Max {
		return false
	}
	if rc.Equals != nil && value != *rc.Equals {
		return false
	}
	return true
}

// ExploitPattern is one catalogue entry. Patterns are loaded at startup and
// on reload; the matcher never mutates them in place — a reload replaces the
// whole index atomically. Effectiveness counters (MatchCount,
// FalsePositiveCount) are maintained out-of-band in a side table and only
// copied here for serialization.
type ExploitPattern struct {
	PatternID      string      `json:"patternId" yaml:"pattern_id"`
	Name           string      `json:"name" yaml:"name"`
	Description    string      `json:"description" yaml:"description"`
	Kind           PatternKind `json:"kind" yaml:"kind"`
	Severity       Severity    `json:"severity" yaml:"severity"`
	BaseConfidence float64     `json:"baseConfidence" yaml:"base_confidence"`

	ProgramID        string                    `json:"programId,omitempty" yaml:"program_id,omitempty"`
	InstructionRegex string                    `json:"instructionRegex,omitempty" yaml:"instruction_regex,omitempty"`
	BehavioralRules  map[string]RuleConstraint `json:"behavioralRules,omitempty" yaml:"behavioral_rules,omitempty"`
	AccountPattern   string                    `json:"accountPattern,omitempty" yaml:"account_pattern,omitempty"`

	MatchCount         uint64 `json:"matchCount" yaml:"-"`
	FalsePositiveCount uint64 `json:"falsePositiveCount" yaml:"-"`
	IsActive           bool   `json:"isActive" yaml:"is_active"`

	// Compiled holds the precompiled InstructionRegex. Populated at index
	// build time; a compile failure disqualifies this one pattern only.
	Compiled *regexp.Regexp `json:"-" yaml:"-"`
}

// PatternMatch is a single hit produced during scanning.
type PatternMatch struct {
	PatternID   string            `json:"patternId"`
	Name        string            `json:"name"`
	Kind        PatternKind       `json:"kind"`
	Severity    Severity          `json:"severity"`
	Confidence  float64           `json:"confidence"`
	Evidence    map[string]string `json:"evidence,omitempty"`
	MatchTimeMs float64           `json:"matchTimeMs"`
}
