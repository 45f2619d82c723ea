package models

import "time"

// RiskLevel is the final verdict band.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "SAFE"
	RiskCaution RiskLevel = "CAUTION"
	RiskDanger  RiskLevel = "DANGER"
)

// RiskLevelForScore derives the verdict band from an integer risk score.
// The mapping is the single source of truth: >=70 DANGER, >=30 CAUTION,
// otherwise SAFE.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskDanger
	case score >= 30:
		return RiskCaution
	default:
		return RiskSafe
	}
}

// Component names used in ComponentTimes / CompletedComponents.
const (
	ComponentProgram  = "program_analysis"
	ComponentPatterns = "pattern_analysis"
	ComponentML       = "ml_analysis"
	ComponentAccount  = "account_analysis"
)

// ProgramDetail is the per-program classification row.
type ProgramDetail struct {
	ProgramID       string  `json:"programId"`
	IsVerified      bool    `json:"isVerified"`
	IsBlocklisted   bool    `json:"isBlocklisted"`
	RiskScore       int     `json:"riskScore"`       // 0, 30 or 100
	ReputationScore float64 `json:"reputationScore"` // 0..1
}

// ProgramAnalysis summarizes allow-list / block-list classification.
type ProgramAnalysis struct {
	Total        int             `json:"total"`
	Verified     int             `json:"verified"`
	Unknown      int             `json:"unknown"`
	Blocklisted  int             `json:"blocklisted"`
	RiskPrograms []string        `json:"riskPrograms"`
	Details      []ProgramDetail `json:"details,omitempty"`
}

// MLClassification values produced by the anomaly detector.
type MLClassification string

const (
	MLNormal     MLClassification = "Normal"
	MLSuspicious MLClassification = "Suspicious"
	MLMalicious  MLClassification = "Malicious"
)

// MLAnalysis is the anomaly detector's report.
type MLAnalysis struct {
	Classification MLClassification `json:"classification"`
	AnomalyScore   float64          `json:"anomalyScore"` // calibrated p in [0,1]
	RawScore       float64          `json:"rawScore"`     // model decision-function output
	Confidence     float64          `json:"confidence"`
	IsOutlier      bool             `json:"isOutlier"`
	ModelUsed      bool             `json:"modelUsed"` // false = rule-only fallback
	RuleOverride   string           `json:"ruleOverride,omitempty"`
}

// AccountAnalysis is the account/authority analyzer's report.
type AccountAnalysis struct {
	TotalAccounts      int      `json:"totalAccounts"`
	NewAccounts        int      `json:"newAccounts"`
	RedFlags           []string `json:"redFlags"`
	UnlimitedApprovals bool     `json:"unlimitedApprovals"`
	AuthorityChanges   bool     `json:"authorityChanges"`
	UserAtRisk         bool     `json:"userAtRisk"`
	SuspiciousPatterns []string `json:"suspiciousPatterns"`
}

// PatternAnalysis wraps the matcher output plus per-scan stats.
type PatternAnalysis struct {
	Matches      []PatternMatch `json:"matches"`
	TotalMatches int            `json:"totalMatches"`
	CriticalHit  bool           `json:"criticalHit"` // any critical_program pattern fired
	Partial      bool           `json:"partial"`     // one or more sub-matchers timed out
	CacheHit     bool           `json:"cacheHit"`
	MatchTimeMs  float64        `json:"matchTimeMs"`
	SnapshotID   int64          `json:"snapshotId"`
	SkippedRegex int            `json:"skippedRegex,omitempty"` // patterns dropped by the snapshot build
}

// ScanDetails bundles the four analyzer reports. A nil report means the
// branch failed or timed out.
type ScanDetails struct {
	ProgramAnalysis *ProgramAnalysis `json:"programAnalysis,omitempty"`
	PatternAnalysis *PatternAnalysis `json:"patternAnalysis,omitempty"`
	MLAnalysis      *MLAnalysis      `json:"mlAnalysis,omitempty"`
	AccountAnalysis *AccountAnalysis `json:"accountAnalysis,omitempty"`
}

// ScanResult is the scorer's output and the response body of one scan.
type ScanResult struct {
	ScanID              string             `json:"scanId"`
	RiskLevel           RiskLevel          `json:"riskLevel"`
	RiskScore           int                `json:"riskScore"`  // 0..100
	Confidence          float64            `json:"confidence"` // 0.3..0.99
	Explanation         string             `json:"explanation"`
	Recommendation      string             `json:"recommendation"`
	ComponentTimes      map[string]float64 `json:"componentTimes"` // analyzer -> ms
	CompletedComponents []string           `json:"completedComponents"`
	FailedComponents    []string           `json:"failedComponents"`
	Details             ScanDetails        `json:"details"`
	ScanTimeMs          float64            `json:"scanTimeMs"`
	Timestamp           time.Time          `json:"timestamp"`
	CacheHit            bool               `json:"cacheHit,omitempty"`
}

// Explanation is the pluggable Explainer's output.
type Explanation struct {
	Explanation    string `json:"explanation"`
	Recommendation string `json:"recommendation"`
}

// ScanEvent is the outbound analytics payload, enqueued (not delivered)
// before the scan response is returned.
type ScanEvent struct {
	ScanID              string    `json:"scanId"`
	UserWallet          string    `json:"userWallet,omitempty"`
	RiskLevel           RiskLevel `json:"riskLevel"`
	RiskScore           int       `json:"riskScore"`
	Confidence          float64   `json:"confidence"`
	ScanTimeMs          float64   `json:"scanTimeMs"`
	ProgramCount        int       `json:"programCount"`
	InstructionCount    int       `json:"instructionCount"`
	PatternMatchesCount int       `json:"patternMatchesCount"`
	ScanType            string    `json:"scanType"`
	Timestamp           time.Time `json:"timestamp"`
}

// Priority of a queued scan request.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	default:
		return "LOW"
	}
}

// Scan types accepted on the API boundary.
const (
	ScanTypeQuick         = "quick"
	ScanTypeDeep          = "deep"
	ScanTypeComprehensive = "comprehensive"
)

// PriorityForScanType maps the requested scan type to a queue priority.
// Privileged callers may be upgraded to HIGH by the API layer.
func PriorityForScanType(scanType string) Priority {
	switch scanType {
	case ScanTypeComprehensive:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
