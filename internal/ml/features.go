package ml

import (
	"math"
	"strings"

	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Feature Extraction
//
// Maps a parsed transaction onto a fixed 25-dimensional vector. The
// ordering is frozen: the standardizer and the trees in the model file
// are trained against these indexes, so changing the layout requires a
// new model version.
// ──────────────────────────────────────────────────────────────────────

// FeatureCount is the fixed arity of the feature vector.
const FeatureCount = 25

// Feature indexes.
const (
	fProgramCount = iota
	fVerifiedProgramCount
	fUnknownProgramCount
	fHasSystemProgram
	fHasTokenProgram
	fInstructionCount
	fMeanDataLen
	fMaxDataLen
	fStddevDataLen
	fComplexInstructionCount
	fApprovalMarkerCount
	fMultiAccountInstructionCount
	fManyInstructionsFlag
	fAccountCount
	fUniqueAccountCount
	fNewAccountCount
	fInvalidLengthAccountCount
	fManyAccountsFlag
	fAccountInstructionRatio
	fDuplicateAccountFlag
	fTotalDataSize
	fAvgInstructionSize
	fProgramsTimesInstructions
	fHighComplexityFlag
	fSignaturesRequired
)

const (
	complexInstructionBytes = 100
	manyInstructions        = 10
	manyAccounts            = 20
	highComplexity          = 50.0
)

// ExtractFeatures computes the vector. Deterministic: the same parsed
// transaction always yields the same features.
func ExtractFeatures(tx *models.ParsedTransaction, snap *patterns.Snapshot) [FeatureCount]float64 {
	var v [FeatureCount]float64

	unique := tx.UniquePrograms()
	v[fProgramCount] = float64(len(unique))
	for _, p := range unique {
		if snap != nil && snap.Verified[p] {
			v[fVerifiedProgramCount]++
		} else if snap == nil || !snap.Blocklisted[p] {
			v[fUnknownProgramCount]++
		}
		if p == models.SystemProgramID {
			v[fHasSystemProgram] = 1
		}
		if p == models.TokenProgramID {
			v[fHasTokenProgram] = 1
		}
	}

	n := len(tx.Instructions)
	v[fInstructionCount] = float64(n)
	if n > manyInstructions {
		v[fManyInstructionsFlag] = 1
	}

	totalData := 0
	maxData := 0
	for _, ins := range tx.Instructions {
		totalData += ins.DataLength
		if ins.DataLength > maxData {
			maxData = ins.DataLength
		}
		if ins.DataLength > complexInstructionBytes {
			v[fComplexInstructionCount]++
		}
		if strings.Contains(ins.DataHex, models.UnlimitedApprovalMarker) {
			v[fApprovalMarkerCount]++
		}
		if len(ins.AccountIndexes) > 3 {
			v[fMultiAccountInstructionCount]++
		}
	}
	v[fTotalDataSize] = float64(totalData)
	v[fMaxDataLen] = float64(maxData)
	if n > 0 {
		mean := float64(totalData) / float64(n)
		v[fMeanDataLen] = mean
		v[fAvgInstructionSize] = mean

		varianceSum := 0.0
		for _, ins := range tx.Instructions {
			diff := float64(ins.DataLength) - mean
			varianceSum += diff * diff
		}
		v[fStddevDataLen] = math.Sqrt(varianceSum / float64(n))
	}

	accounts := len(tx.Accounts)
	v[fAccountCount] = float64(accounts)
	if accounts > manyAccounts {
		v[fManyAccountsFlag] = 1
	}
	seen := make(map[string]bool, accounts)
	for _, acct := range tx.Accounts {
		if seen[acct] {
			v[fDuplicateAccountFlag] = 1
		}
		seen[acct] = true
		if len(acct) > 0 && len(acct) < 32 {
			v[fNewAccountCount]++
		}
		if len(acct) < 32 || len(acct) > 44 {
			v[fInvalidLengthAccountCount]++
		}
	}
	v[fUniqueAccountCount] = float64(len(seen))
	if n > 0 {
		v[fAccountInstructionRatio] = float64(accounts) / float64(n)
	}

	v[fProgramsTimesInstructions] = float64(len(unique) * n)
	if v[fProgramsTimesInstructions] > highComplexity {
		v[fHighComplexityFlag] = 1
	}
	v[fSignaturesRequired] = float64(tx.SignaturesRequired)

	return v
}
