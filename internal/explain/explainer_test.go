package explain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/txguard-engine/pkg/models"
)

func TestFallback_DangerBlocklisted(t *testing.T) {
	details := &models.ScanDetails{
		ProgramAnalysis: &models.ProgramAnalysis{Blocklisted: 1},
	}

	out := Fallback(details, models.RiskDanger, 100)

	if !strings.Contains(out.Explanation, "blocklist") {
		t.Errorf("Expected the blocklist explanation. Got: %s", out.Explanation)
	}
	if out.Recommendation != "Do not sign this transaction." {
		t.Errorf("Expected the do-not-sign recommendation. Got: %s", out.Recommendation)
	}
}

func TestFallback_CautionUnknownPrograms(t *testing.T) {
	details := &models.ScanDetails{
		ProgramAnalysis: &models.ProgramAnalysis{Unknown: 2},
	}

	out := Fallback(details, models.RiskCaution, 45)

	if !strings.Contains(out.Explanation, "unverified") {
		t.Errorf("Expected the unverified-programs explanation. Got: %s", out.Explanation)
	}
}

func TestFallback_SafeAndNilDetails(t *testing.T) {
	out := Fallback(nil, models.RiskSafe, 5)

	if out.Explanation == "" || out.Recommendation == "" {
		t.Errorf("Expected a complete template even without details. Got: %+v", out)
	}
	if !strings.Contains(out.Recommendation, "safe to sign") {
		t.Errorf("Expected the safe recommendation. Got: %s", out.Recommendation)
	}
}

func TestHTTPExplainer_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST. Got: %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"explanation": "Looks risky.", "recommendation": "Decline."}`))
	}))
	defer srv.Close()

	e := NewHTTPExplainer(srv.URL, time.Second)
	out, err := e.Explain(context.Background(), &models.ScanDetails{}, models.RiskCaution, 50, "")
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if out.Explanation != "Looks risky." || out.Recommendation != "Decline." {
		t.Errorf("Expected the service response. Got: %+v", out)
	}
}

func TestHTTPExplainer_EmptyExplanationIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"explanation": ""}`))
	}))
	defer srv.Close()

	e := NewHTTPExplainer(srv.URL, time.Second)
	if _, err := e.Explain(context.Background(), nil, models.RiskSafe, 0, ""); err == nil {
		t.Error("Expected an error for an empty explanation")
	}
}

func TestHTTPExplainer_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewHTTPExplainer(srv.URL, time.Second)
	if _, err := e.Explain(context.Background(), nil, models.RiskSafe, 0, ""); err == nil {
		t.Error("Expected an error for a non-200 status")
	}
}
