package parser

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// Fingerprint derives the deterministic cache key for a transaction from
// its coarse shape: the sorted program set, the instruction count, the
// account count and the signature requirement. Two transactions with the
// same shape share scan results for the cache TTL.
//
// algo selects the hash: "sha256d" double-hashes (chain style), anything
// else uses single sha256. Both are deterministic across processes.
func Fingerprint(tx *models.ParsedTransaction, algo string) string {
	programs := append([]string(nil), tx.Programs...)
	sort.Strings(programs)

	payload := fmt.Sprintf("%s|%d|%d|%d",
		strings.Join(programs, ","),
		len(tx.Instructions),
		len(tx.Accounts),
		tx.SignaturesRequired,
	)

	var sum []byte
	if algo == "sha256d" {
		sum = chainhash.DoubleHashB([]byte(payload))
	} else {
		sum = chainhash.HashB([]byte(payload))
	}
	return hex.EncodeToString(sum)
}
