package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Explainer
//
// Turns scan details into a one-paragraph explanation plus a
// recommendation. The pipeline calls Explain under a hard deadline and
// substitutes the deterministic template on any failure, so this
// component can never delay or fail a scan.
// ──────────────────────────────────────────────────────────────────────

// Explainer produces human-readable explanations for a scored scan.
type Explainer interface {
	Explain(ctx context.Context, details *models.ScanDetails, riskLevel models.RiskLevel, riskScore int, userWallet string) (*models.Explanation, error)
}

// HTTPExplainer delegates to an external explanation service.
type HTTPExplainer struct {
	url    string
	client *http.Client
}

func NewHTTPExplainer(url string, timeout time.Duration) *HTTPExplainer {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPExplainer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type explainRequest struct {
	Details    *models.ScanDetails `json:"details"`
	RiskLevel  models.RiskLevel    `json:"riskLevel"`
	RiskScore  int                 `json:"riskScore"`
	UserWallet string              `json:"userWallet,omitempty"`
}

func (e *HTTPExplainer) Explain(ctx context.Context, details *models.ScanDetails, riskLevel models.RiskLevel, riskScore int, userWallet string) (*models.Explanation, error) {
	body, err := json.Marshal(explainRequest{
		Details:    details,
		RiskLevel:  riskLevel,
		RiskScore:  riskScore,
		UserWallet: userWallet,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal explain request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build explain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explainer call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explainer returned status %d", resp.StatusCode)
	}

	var out models.Explanation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode explainer response: %w", err)
	}
	if out.Explanation == "" {
		return nil, fmt.Errorf("explainer returned an empty explanation")
	}
	return &out, nil
}

// Fallback builds the deterministic template used when the explainer
// misses its deadline or errors.
func Fallback(details *models.ScanDetails, riskLevel models.RiskLevel, riskScore int) *models.Explanation {
	matches := 0
	criticalHit := false
	if details != nil && details.PatternAnalysis != nil {
		matches = details.PatternAnalysis.TotalMatches
		criticalHit = details.PatternAnalysis.CriticalHit
	}
	blocklisted := 0
	unknown := 0
	if details != nil && details.ProgramAnalysis != nil {
		blocklisted = details.ProgramAnalysis.Blocklisted
		unknown = details.ProgramAnalysis.Unknown
	}

	var explanation, recommendation string
	switch riskLevel {
	case models.RiskDanger:
		switch {
		case blocklisted > 0:
			explanation = fmt.Sprintf("This transaction invokes %d program(s) on the active blocklist (risk score %d/100).", blocklisted, riskScore)
		case criticalHit:
			explanation = fmt.Sprintf("This transaction matches a critical exploit pattern (risk score %d/100).", riskScore)
		default:
			explanation = fmt.Sprintf("This transaction shows multiple high-risk signals (risk score %d/100, %d pattern matches).", riskScore, matches)
		}
		recommendation = "Do not sign this transaction."
	case models.RiskCaution:
		if matches > 0 {
			explanation = fmt.Sprintf("This transaction triggered %d exploit-pattern match(es) (risk score %d/100).", matches, riskScore)
		} else if unknown > 0 {
			explanation = fmt.Sprintf("This transaction interacts with %d unverified program(s) (risk score %d/100).", unknown, riskScore)
		} else {
			explanation = fmt.Sprintf("This transaction shows elevated risk signals (risk score %d/100).", riskScore)
		}
		recommendation = "Review the programs and approvals carefully before signing."
	default:
		explanation = fmt.Sprintf("No significant risk signals were found (risk score %d/100).", riskScore)
		recommendation = "This transaction appears safe to sign."
	}

	return &models.Explanation{Explanation: explanation, Recommendation: recommendation}
}
