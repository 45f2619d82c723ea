package analyzers

import (
	"context"
	"strings"

	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Account / Authority Analyzer
//
// Scans instruction data and the account layout for three red flags:
//
//   unlimited_approval  — data hex carries the all-ones delegation amount
//   authority_change    — data length exceeds the delegation threshold
//   user_at_risk        — the caller's wallet sits in the account table
//                         while any red flag fired
// ──────────────────────────────────────────────────────────────────────

const (
	flagUnlimitedApproval = "unlimited_approval"
	flagAuthorityChange   = "authority_change"
)

type AccountAnalyzer struct {
	authorityThreshold int
	cache              *cache.Service // nil disables caching
}

func NewAccountAnalyzer(authorityThreshold int, cacheSvc *cache.Service) *AccountAnalyzer {
	if authorityThreshold <= 0 {
		authorityThreshold = 200
	}
	return &AccountAnalyzer{authorityThreshold: authorityThreshold, cache: cacheSvc}
}

// Analyze inspects one transaction for approval and authority red flags.
// fingerprint keys the cache; userWallet is folded into the key because
// user_at_risk depends on it.
func (a *AccountAnalyzer) Analyze(ctx context.Context, tx *models.ParsedTransaction, userWallet, fingerprint string) (*models.AccountAnalysis, error) {
	key := fingerprint + ":" + userWallet
	if a.cache != nil {
		var cached models.AccountAnalysis
		if a.cache.GetJSON(ctx, cache.NSAccountAnalysis, key, &cached) {
			return &cached, nil
		}
	}

	result := &models.AccountAnalysis{
		TotalAccounts:      len(tx.Accounts),
		RedFlags:           []string{},
		SuspiciousPatterns: []string{},
	}

	for _, acct := range tx.Accounts {
		// Identifiers outside the canonical 32..44 base58 range look
		// like freshly fabricated or malformed accounts.
		if len(acct) < 32 || len(acct) > 44 {
			result.NewAccounts++
		}
	}

	for _, ins := range tx.Instructions {
		if strings.Contains(ins.DataHex, models.UnlimitedApprovalMarker) && !result.UnlimitedApprovals {
			result.UnlimitedApprovals = true
			result.RedFlags = append(result.RedFlags, flagUnlimitedApproval)
		}
		if ins.DataLength > a.authorityThreshold && !result.AuthorityChanges {
			result.AuthorityChanges = true
			result.RedFlags = append(result.RedFlags, flagAuthorityChange)
		}
	}

	if result.UnlimitedApprovals && result.AuthorityChanges {
		result.SuspiciousPatterns = append(result.SuspiciousPatterns, "approval_with_authority_change")
	}
	if result.NewAccounts > 0 && result.UnlimitedApprovals {
		result.SuspiciousPatterns = append(result.SuspiciousPatterns, "approval_toward_new_accounts")
	}

	if userWallet != "" && len(result.RedFlags) > 0 {
		for _, acct := range tx.Accounts {
			if acct == userWallet {
				result.UserAtRisk = true
				break
			}
		}
	}

	if a.cache != nil {
		a.cache.SetJSON(ctx, cache.NSAccountAnalysis, key, result)
	}
	return result, nil
}
