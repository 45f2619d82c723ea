package alerts

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// Alert & Webhook System
//
// Structured alert emission for SOC operations. Alerts are:
//   1. Broadcast via WebSocket to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, Discord, SIEM)
//   3. Stored in memory for recent alert history
//
// Webhook payloads follow a common JSON format compatible with
// Slack incoming webhooks, Discord webhooks, and PagerDuty Events API.
//
// Only CAUTION and DANGER verdicts produce alerts; SAFE scans are
// silent.

// Alert represents a structured security alert
type Alert struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Severity    string           `json:"severity"`  // info/low/medium/high/critical
	AlertType   string           `json:"alertType"` // blocklisted_program/critical_pattern/high_risk/elevated_risk
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ScanID      string           `json:"scanId,omitempty"`
	UserWallet  string           `json:"userWallet,omitempty"`
	RiskLevel   models.RiskLevel `json:"riskLevel,omitempty"`
	RiskScore   int              `json:"riskScore,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// Manager handles alert emission and webhook delivery
type Manager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	httpClient    *http.Client
	alertCallback func(Alert) // WebSocket broadcast callback
}

// NewManager creates a new alert system
func NewManager(broadcastFn func(Alert)) *Manager {
	return &Manager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint
func (am *Manager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	log.Printf("[AlertManager] Registered webhook: %s → %s (min: %s)", name, url, minSeverity)
}

// RemoveWebhook removes a webhook by name
func (am *Manager) RemoveWebhook(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, wh := range am.webhooks {
		if wh.Name == name {
			am.webhooks = append(am.webhooks[:i], am.webhooks[i+1:]...)
			return
		}
	}
}

// EmitAlert processes and distributes an alert
func (am *Manager) EmitAlert(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = alert.Severity + "-" + alert.AlertType + "-" + alert.ScanID
	}

	// Store in history
	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	// Broadcast via WebSocket callback
	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	// Send to webhooks (async, non-blocking)
	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go am.sendWebhook(wh, alert)
	}

	log.Printf("[Alert] [%s] %s: %s (scan: %s)", alert.Severity, alert.AlertType, alert.Title, alert.ScanID)
}

// EmitFromScan creates and emits an alert from a completed scan result.
// SAFE verdicts never alert.
func (am *Manager) EmitFromScan(result *models.ScanResult, userWallet string) {
	if result == nil || result.RiskLevel == models.RiskSafe {
		return
	}

	severity := "medium"
	alertType := "elevated_risk"
	title := "Elevated-risk transaction scanned"

	if result.RiskLevel == models.RiskDanger {
		severity = "high"
		alertType = "high_risk"
		title = "High-risk transaction scanned"
	}
	if pa := result.Details.ProgramAnalysis; pa != nil && pa.Blocklisted > 0 {
		severity = "critical"
		alertType = "blocklisted_program"
		title = "Blocklisted program invoked"
	} else if pm := result.Details.PatternAnalysis; pm != nil && pm.CriticalHit {
		severity = "critical"
		alertType = "critical_pattern"
		title = "Critical exploit pattern matched"
	}

	am.EmitAlert(Alert{
		Severity:    severity,
		AlertType:   alertType,
		Title:       title,
		Description: result.Explanation,
		ScanID:      result.ScanID,
		UserWallet:  userWallet,
		RiskLevel:   result.RiskLevel,
		RiskScore:   result.RiskScore,
	})
}

// GetRecentAlerts returns the most recent alerts
func (am *Manager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	// Return most recent first
	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

// GetAlertsBySeverity returns alerts matching a minimum severity
func (am *Manager) GetAlertsBySeverity(minSeverity string) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var filtered []Alert
	for _, alert := range am.recentAlerts {
		if severityMeetsThreshold(alert.Severity, minSeverity) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

// sendWebhook delivers an alert to a webhook endpoint
func (am *Manager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[Webhook] Failed to create request for %s: %v", wh.Name, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] Failed to send to %s: %v", wh.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhook] %s returned status %d", wh.Name, resp.StatusCode)
	}
}

// severityMeetsThreshold checks if a severity level meets the minimum
func severityMeetsThreshold(severity, minimum string) bool {
	levels := map[string]int{
		"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
	}
	return levels[severity] >= levels[minimum]
}
