package api

import "context"

// ──────────────────────────────────────────────────────────────────
// Payment Verification
//
// Payment and escrow live in an external service; the scan boundary
// only asks "does this caller hold a valid receipt for this scan
// type?". A denial maps to HTTP 402 with the structured payload the
// client needs to settle up.
// ──────────────────────────────────────────────────────────────────

// Receipt is the verifier's answer.
type Receipt struct {
	Valid          bool    `json:"valid"`
	RequiredAmount float64 `json:"requiredAmount"`
	CurrentBalance float64 `json:"currentBalance"`
	Instructions   string  `json:"instructions"`
}

// PaymentVerifier checks a caller's payment standing for one scan type.
type PaymentVerifier interface {
	Verify(ctx context.Context, userWallet, scanType string) Receipt
}

// AllowAllPayments is the default verifier for deployments without a
// payment service.
type AllowAllPayments struct{}

func (AllowAllPayments) Verify(context.Context, string, string) Receipt {
	return Receipt{Valid: true}
}
