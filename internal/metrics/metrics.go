package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scan engine
type Metrics struct {
	// Scan metrics
	ScansTotal   *prometheus.CounterVec
	ScanDuration *prometheus.HistogramVec
	RiskScore    prometheus.Histogram

	// Analyzer metrics
	AnalyzerDuration *prometheus.HistogramVec
	AnalyzerFailures *prometheus.CounterVec

	// Pattern engine metrics
	PatternMatches  *prometheus.CounterVec
	PatternReloads  prometheus.Counter
	SnapshotVersion prometheus.Gauge

	// Cache metrics
	CacheOps *prometheus.CounterVec

	// Admission metrics
	QueueDepth          prometheus.Gauge
	AdmissionRejections *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		ScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_scans_total",
				Help: "Total number of scans processed",
			},
			[]string{"risk_level", "scan_type", "cache_hit"},
		),

		ScanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txguard_scan_duration_seconds",
				Help:    "End-to-end scan latency",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 1.7, 2.0, 5.0},
			},
			[]string{"scan_type"},
		),

		RiskScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "txguard_risk_score",
				Help:    "Distribution of final risk scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		AnalyzerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txguard_analyzer_duration_seconds",
				Help:    "Per-branch analyzer latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"analyzer"},
		),

		AnalyzerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_analyzer_failures_total",
				Help: "Analyzer branches that failed or timed out",
			},
			[]string{"analyzer"},
		),

		PatternMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_pattern_matches_total",
				Help: "Pattern matches by severity",
			},
			[]string{"severity"},
		),

		PatternReloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "txguard_pattern_reloads_total",
				Help: "Catalogue reloads performed",
			},
		),

		SnapshotVersion: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "txguard_pattern_snapshot_version",
				Help: "Version of the active pattern snapshot",
			},
		),

		CacheOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_cache_operations_total",
				Help: "Cache operations by namespace and result",
			},
			[]string{"namespace", "result"}, // result: hit, miss, error
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "txguard_admission_queue_depth",
				Help: "Current admission queue size",
			},
		),

		AdmissionRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_admission_rejections_total",
				Help: "Submissions rejected at admission",
			},
			[]string{"reason"}, // reason: queue_full, breaker_open
		),
	}
}

// RecordScan records a completed scan outcome
func (m *Metrics) RecordScan(riskLevel, scanType string, cacheHit bool, riskScore int, durationSeconds float64) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.ScansTotal.WithLabelValues(riskLevel, scanType, hit).Inc()
	m.ScanDuration.WithLabelValues(scanType).Observe(durationSeconds)
	m.RiskScore.Observe(float64(riskScore))
}

// RecordAnalyzer records one branch outcome
func (m *Metrics) RecordAnalyzer(analyzer string, durationSeconds float64, failed bool) {
	m.AnalyzerDuration.WithLabelValues(analyzer).Observe(durationSeconds)
	if failed {
		m.AnalyzerFailures.WithLabelValues(analyzer).Inc()
	}
}

// RecordPatternMatch counts one returned pattern match by severity
func (m *Metrics) RecordPatternMatch(severity string) {
	m.PatternMatches.WithLabelValues(severity).Inc()
}

// RecordCacheOp counts one cache lookup outcome (hit, miss or error)
func (m *Metrics) RecordCacheOp(namespace, result string) {
	m.CacheOps.WithLabelValues(namespace, result).Inc()
}

// RecordRejection records an admission rejection
func (m *Metrics) RecordRejection(reason string) {
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}
