package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/txguard-engine/internal/admission"
	"github.com/rawblock/txguard-engine/internal/alerts"
	"github.com/rawblock/txguard-engine/internal/analyzers"
	"github.com/rawblock/txguard-engine/internal/config"
	"github.com/rawblock/txguard-engine/internal/ml"
	"github.com/rawblock/txguard-engine/internal/parser"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/internal/pipeline"
	"github.com/rawblock/txguard-engine/pkg/models"
)

func testDeps(t *testing.T, payment PaymentVerifier) Deps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		MaxRequestSize:   65536,
		PipelineDeadline: 1700 * time.Millisecond,
		FingerprintHash:  "sha256",
		WorkerCount:      4,
		QueueMaxSize:     50,
	}

	pats, verified, blocklisted := patterns.BuiltinCatalogue()
	engine := patterns.NewEngine(&patterns.StaticLoader{Catalogue: &patterns.Catalogue{
		Patterns:            pats,
		VerifiedPrograms:    verified,
		BlocklistedPrograms: blocklisted,
	}}, nil, 200)

	scanPipeline := pipeline.New(pipeline.Options{
		Parser:   parser.New(cfg.MaxRequestSize),
		Engine:   engine,
		Programs: analyzers.NewProgramAnalyzer(engine, nil),
		Accounts: analyzers.NewAccountAnalyzer(200, nil),
		Detector: ml.NewDetector("", true, nil),
		Config:   cfg,
	})

	admissionLayer := admission.NewLayer(cfg)
	t.Cleanup(admissionLayer.Close)

	wsHub := NewHub()
	go wsHub.Run()

	return Deps{
		Pipeline:  scanPipeline,
		Admission: admissionLayer,
		Engine:    engine,
		Alerts:    alerts.NewManager(nil),
		WSHub:     wsHub,
		Payment:   payment,
		Config:    cfg,
	}
}

func testRouter(t *testing.T, payment PaymentVerifier) *gin.Engine {
	t.Helper()
	return SetupRouter(testDeps(t, payment))
}

func postScan(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleScan_SafeTransfer(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, nil)

	body := `{"transaction": {"accounts": ["` + models.SystemProgramID + `"],
		"instructions": [{"programIdIndex": 0, "accountIndexes": [0], "data": "02"}]},
		"scan_type": "quick"}`
	w := postScan(r, body)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200. Got: %d (%s)", w.Code, w.Body.String())
	}

	var result models.ScanResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Response is not a scan result: %v", err)
	}
	if result.RiskLevel != models.RiskSafe {
		t.Errorf("Expected SAFE. Got: %s (score %d)", result.RiskLevel, result.RiskScore)
	}
	if result.ScanID == "" {
		t.Error("Expected a scan_id in the response")
	}
}

func TestHandleScan_MissingTransaction(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, nil)

	w := postScan(r, `{"scan_type": "quick"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing transaction. Got: %d", w.Code)
	}
}

func TestHandleScan_InvalidScanType(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, nil)

	w := postScan(r, `{"transaction": "AAAA", "scan_type": "turbo"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for an unknown scan_type. Got: %d", w.Code)
	}
}

func TestHandleScan_InvalidWallet(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, nil)

	w := postScan(r, `{"transaction": "AAAA", "user_wallet": "not-a-wallet"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for an invalid wallet. Got: %d", w.Code)
	}
}

type denyAllPayments struct{}

func (denyAllPayments) Verify(ctx context.Context, userWallet, scanType string) Receipt {
	return Receipt{
		Valid:          false,
		RequiredAmount: 10,
		CurrentBalance: 0,
		Instructions:   "Top up your scan balance",
	}
}

func TestHandleScan_PaymentRequired(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, denyAllPayments{})

	body := `{"transaction": {"accounts": ["` + models.SystemProgramID + `"],
		"instructions": [{"programIdIndex": 0, "accountIndexes": [0], "data": "02"}]}}`
	w := postScan(r, body)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402. Got: %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	if resp["instructions"] != "Top up your scan balance" {
		t.Errorf("Expected payment instructions in the response. Got: %v", resp)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200. Got: %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	if resp["status"] != "operational" {
		t.Errorf("Expected operational status. Got: %v", resp["status"])
	}
	if resp["dbConnected"] != false {
		t.Errorf("Expected dbConnected false without a database. Got: %v", resp["dbConnected"])
	}
}

func TestAuthMiddleware_EnforcesToken(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret-token")
	r := testRouter(t, nil)

	w := postScan(r, `{"transaction": "AAAA"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without an Authorization header. Got: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", bytes.NewBufferString(`{"transaction": "AAAA"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with a wrong token. Got: %d", w.Code)
	}

	// Health stays public.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected the health endpoint to stay public. Got: %d", w.Code)
	}
}

func TestPatternFalsePositive_Recorded(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	deps := testDeps(t, nil)
	r := SetupRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patterns/builtin-drainer-001/false-positive", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202. Got: %d (%s)", w.Code, w.Body.String())
	}

	// Counter updates flow through an async channel; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if deps.Engine.Counters().Get("builtin-drainer-001").FalsePositiveCount >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Expected the false-positive count to increment. Got: %+v",
		deps.Engine.Counters().Get("builtin-drainer-001"))
}

func TestHandleAlerts_ReturnsEmitted(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	deps := testDeps(t, nil)
	deps.Alerts.EmitAlert(alerts.Alert{ScanID: "s1", Severity: "high", AlertType: "high_risk"})
	r := SetupRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200. Got: %d", w.Code)
	}
	var resp struct {
		Alerts  []alerts.Alert `json:"alerts"`
		History []any          `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].ScanID != "s1" {
		t.Errorf("Expected the emitted alert back. Got: %+v", resp.Alerts)
	}
	if resp.History != nil {
		t.Errorf("Expected no persisted history without a database. Got: %+v", resp.History)
	}
}

func TestScanErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{admission.ErrQueueFull, http.StatusServiceUnavailable},
		{admission.ErrBreakerOpen, http.StatusServiceUnavailable},
		{pipeline.ErrScanTimeout, http.StatusRequestTimeout},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		status, msg := scanErrorStatus(c.err)
		if status != c.status {
			t.Errorf("%v: expected %d. Got: %d", c.err, c.status, status)
		}
		if msg == "" {
			t.Errorf("%v: expected a client-facing message", c.err)
		}
	}
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("Expected the first request through")
	}
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("Expected the second request through (burst capacity)")
	}
	ok, retryAfter := rl.allow("10.0.0.1")
	if ok {
		t.Fatal("Expected the third request limited")
	}
	if retryAfter <= 0 {
		t.Errorf("Expected a positive Retry-After. Got: %v", retryAfter)
	}

	// A different IP has its own bucket.
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Error("Expected per-IP isolation")
	}
}
