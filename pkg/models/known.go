package models

// Well-known program identifiers and on-wire markers.
const (
	// SystemProgramID is the native transfer/allocation program.
	SystemProgramID = "11111111111111111111111111111112"

	// TokenProgramID is the SPL token program handling approvals and
	// delegated transfers.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// UnlimitedApprovalMarker is the hex encoding of the all-ones u64
	// amount used by unlimited token approvals.
	UnlimitedApprovalMarker = "ffffffffffffffff"

	// TransferMarker is the hex tag instruction data starts with for
	// token transfer instructions.
	TransferMarker = "03"
)
