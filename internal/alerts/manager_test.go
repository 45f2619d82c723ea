package alerts

import (
	"testing"

	"github.com/rawblock/txguard-engine/pkg/models"
)

func TestEmitFromScan_SafeIsSilent(t *testing.T) {
	called := false
	am := NewManager(func(Alert) { called = true })

	am.EmitFromScan(&models.ScanResult{RiskLevel: models.RiskSafe, RiskScore: 5}, "")

	if called {
		t.Error("Expected no alert for a SAFE verdict")
	}
	if len(am.GetRecentAlerts(10)) != 0 {
		t.Error("Expected empty alert history")
	}
}

func TestEmitFromScan_SeverityMapping(t *testing.T) {
	cases := []struct {
		name      string
		result    *models.ScanResult
		severity  string
		alertType string
	}{
		{
			name:      "caution",
			result:    &models.ScanResult{ScanID: "s1", RiskLevel: models.RiskCaution, RiskScore: 45},
			severity:  "medium",
			alertType: "elevated_risk",
		},
		{
			name:      "danger",
			result:    &models.ScanResult{ScanID: "s2", RiskLevel: models.RiskDanger, RiskScore: 85},
			severity:  "high",
			alertType: "high_risk",
		},
		{
			name: "blocklisted",
			result: &models.ScanResult{
				ScanID: "s3", RiskLevel: models.RiskDanger, RiskScore: 100,
				Details: models.ScanDetails{ProgramAnalysis: &models.ProgramAnalysis{Blocklisted: 1}},
			},
			severity:  "critical",
			alertType: "blocklisted_program",
		},
		{
			name: "critical pattern",
			result: &models.ScanResult{
				ScanID: "s4", RiskLevel: models.RiskDanger, RiskScore: 90,
				Details: models.ScanDetails{PatternAnalysis: &models.PatternAnalysis{CriticalHit: true}},
			},
			severity:  "critical",
			alertType: "critical_pattern",
		},
	}

	for _, c := range cases {
		var got Alert
		am := NewManager(func(a Alert) { got = a })
		am.EmitFromScan(c.result, "wallet")

		if got.Severity != c.severity {
			t.Errorf("%s: expected severity %s. Got: %s", c.name, c.severity, got.Severity)
		}
		if got.AlertType != c.alertType {
			t.Errorf("%s: expected type %s. Got: %s", c.name, c.alertType, got.AlertType)
		}
		if got.ScanID != c.result.ScanID {
			t.Errorf("%s: expected scan id carried through. Got: %s", c.name, got.ScanID)
		}
	}
}

func TestGetRecentAlerts_MostRecentFirst(t *testing.T) {
	am := NewManager(nil)
	am.EmitAlert(Alert{ScanID: "old", Severity: "medium", AlertType: "elevated_risk"})
	am.EmitAlert(Alert{ScanID: "new", Severity: "high", AlertType: "high_risk"})

	recent := am.GetRecentAlerts(10)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 alerts. Got: %d", len(recent))
	}
	if recent[0].ScanID != "new" {
		t.Errorf("Expected most recent alert first. Got: %s", recent[0].ScanID)
	}

	limited := am.GetRecentAlerts(1)
	if len(limited) != 1 || limited[0].ScanID != "new" {
		t.Errorf("Expected the limit to keep the newest alert. Got: %+v", limited)
	}
}

func TestGetAlertsBySeverity(t *testing.T) {
	am := NewManager(nil)
	am.EmitAlert(Alert{ScanID: "a", Severity: "medium", AlertType: "elevated_risk"})
	am.EmitAlert(Alert{ScanID: "b", Severity: "critical", AlertType: "blocklisted_program"})

	high := am.GetAlertsBySeverity("high")
	if len(high) != 1 || high[0].ScanID != "b" {
		t.Errorf("Expected only the critical alert at min severity high. Got: %+v", high)
	}
}

func TestSeverityMeetsThreshold(t *testing.T) {
	if !severityMeetsThreshold("critical", "high") {
		t.Error("Expected critical to meet a high threshold")
	}
	if severityMeetsThreshold("low", "medium") {
		t.Error("Expected low to miss a medium threshold")
	}
	if !severityMeetsThreshold("medium", "medium") {
		t.Error("Expected a severity to meet its own threshold")
	}
}

func TestWebhookRegistry(t *testing.T) {
	am := NewManager(nil)
	am.RegisterWebhook("soc", "http://127.0.0.1:9/hook", "high", nil)

	am.mu.RLock()
	count := len(am.webhooks)
	am.mu.RUnlock()
	if count != 1 {
		t.Fatalf("Expected 1 registered webhook. Got: %d", count)
	}

	am.RemoveWebhook("soc")
	am.mu.RLock()
	count = len(am.webhooks)
	am.mu.RUnlock()
	if count != 0 {
		t.Errorf("Expected webhook removed. Got: %d", count)
	}
}
