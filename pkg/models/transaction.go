package models

import "fmt"

// Instruction is one normalized instruction inside a parsed transaction.
// DataHex retains at most the first 64 bytes of instruction data (hex
// encoded); DataLength always carries the full original length.
type Instruction struct {
	Index          int    `json:"index"`
	ProgramIDIndex int    `json:"programIdIndex"`
	AccountIndexes []int  `json:"accountIndexes"`
	DataHex        string `json:"dataHex"`
	DataLength     int    `json:"dataLength"`
}

// ParsedTransaction is the normalized shape every analyzer consumes.
// It is constructed once per request, immutable after parsing, and owned
// exclusively by the scan pipeline for the life of one scan. Raw
// signatures are never retained.
type ParsedTransaction struct {
	Programs           []string      `json:"programs"` // ordered program IDs (base58)
	Instructions       []Instruction `json:"instructions"`
	Accounts           []string      `json:"accounts"`
	SignaturesRequired int           `json:"signaturesRequired"`
	RecentBlockhash    string        `json:"recentBlockhash"`
	FeePayer           string        `json:"feePayer"`
}

// Validate checks the structural invariants: every programIdIndex and
// account index must point inside the accounts table.
func (tx *ParsedTransaction) Validate() error {
	if tx.SignaturesRequired < 0 {
		return fmt.Errorf("signaturesRequired must be non-negative, got %d", tx.SignaturesRequired)
	}
	n := len(tx.Accounts)
	for _, ins := range tx.Instructions {
		if ins.ProgramIDIndex < 0 || ins.ProgramIDIndex >= n {
			return fmt.Errorf("instruction %d: programIdIndex %d out of range [0,%d)", ins.Index, ins.ProgramIDIndex, n)
		}
		for _, ai := range ins.AccountIndexes {
			if ai < 0 || ai >= n {
				return fmt.Errorf("instruction %d: account index %d out of range [0,%d)", ins.Index, ai, n)
			}
		}
	}
	return nil
}

// UniquePrograms returns the deduplicated program set, preserving first-seen order.
func (tx *ParsedTransaction) UniquePrograms() []string {
	seen := make(map[string]bool, len(tx.Programs))
	unique := make([]string, 0, len(tx.Programs))
	for _, p := range tx.Programs {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	return unique
}

// TotalDataSize sums the full (pre-truncation) instruction data lengths.
func (tx *ParsedTransaction) TotalDataSize() int {
	total := 0
	for _, ins := range tx.Instructions {
		total += ins.DataLength
	}
	return total
}
