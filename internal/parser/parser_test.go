package parser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// buildWireTx assembles a minimal legacy wire message: one signature,
// the 3-byte header, the given accounts, a blockhash and instructions.
func buildWireTx(t *testing.T, accounts [][]byte, instructions []wireIns) []byte {
	t.Helper()

	var buf []byte
	buf = append(buf, 1) // one signature
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, 1, 0, 0) // header: 1 required signature

	buf = append(buf, byte(len(accounts)))
	for _, key := range accounts {
		if len(key) != 32 {
			t.Fatalf("account key must be 32 bytes, got %d", len(key))
		}
		buf = append(buf, key...)
	}

	buf = append(buf, make([]byte, 32)...) // blockhash

	buf = append(buf, byte(len(instructions)))
	for _, ins := range instructions {
		buf = append(buf, ins.programIdx)
		buf = append(buf, byte(len(ins.acctIdx)))
		buf = append(buf, ins.acctIdx...)
		buf = append(buf, byte(len(ins.data)))
		buf = append(buf, ins.data...)
	}
	return buf
}

type wireIns struct {
	programIdx byte
	acctIdx    []byte
	data       []byte
}

func testKey(fill byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	return key
}

func TestParseBase64_WireRoundTrip(t *testing.T) {
	wire := buildWireTx(t,
		[][]byte{testKey(1), testKey(2), testKey(3)},
		[]wireIns{{programIdx: 2, acctIdx: []byte{0, 1}, data: []byte{0x03, 0xaa, 0xbb}}},
	)
	blob := base64.StdEncoding.EncodeToString(wire)

	p := New(65536)
	tx, err := p.ParseBase64(blob)
	if err != nil {
		t.Fatalf("ParseBase64 failed: %v", err)
	}

	if len(tx.Accounts) != 3 {
		t.Errorf("Expected 3 accounts. Got: %d", len(tx.Accounts))
	}
	if tx.SignaturesRequired != 1 {
		t.Errorf("Expected 1 required signature. Got: %d", tx.SignaturesRequired)
	}
	if len(tx.Instructions) != 1 {
		t.Fatalf("Expected 1 instruction. Got: %d", len(tx.Instructions))
	}
	if tx.Instructions[0].DataHex != "03aabb" {
		t.Errorf("Expected data hex 03aabb. Got: %s", tx.Instructions[0].DataHex)
	}
	if tx.Instructions[0].DataLength != 3 {
		t.Errorf("Expected data length 3. Got: %d", tx.Instructions[0].DataLength)
	}
	if len(tx.Programs) != 1 || tx.Programs[0] != tx.Accounts[2] {
		t.Errorf("Expected program derived from account index 2. Got: %v", tx.Programs)
	}
	if tx.FeePayer != tx.Accounts[0] {
		t.Errorf("Expected fee payer = first account. Got: %s", tx.FeePayer)
	}
}

func TestParseBase64_DataRetentionCap(t *testing.T) {
	longData := make([]byte, 100)
	for i := range longData {
		longData[i] = byte(i)
	}
	wire := buildWireTx(t,
		[][]byte{testKey(1)},
		[]wireIns{{programIdx: 0, acctIdx: []byte{0}, data: longData}},
	)

	p := New(65536)
	tx, err := p.ParseBase64(base64.StdEncoding.EncodeToString(wire))
	if err != nil {
		t.Fatalf("ParseBase64 failed: %v", err)
	}

	ins := tx.Instructions[0]
	if ins.DataLength != 100 {
		t.Errorf("Expected full data length 100. Got: %d", ins.DataLength)
	}
	if len(ins.DataHex) != 128 {
		t.Errorf("Expected 64 retained bytes (128 hex chars). Got: %d chars", len(ins.DataHex))
	}
}

func TestParseBase64_Oversized(t *testing.T) {
	p := New(128)
	blob := base64.StdEncoding.EncodeToString(make([]byte, 1024))

	_, err := p.ParseBase64(blob)
	if !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse for oversized blob. Got: %v", err)
	}
}

func TestParseBase64_Garbage(t *testing.T) {
	p := New(65536)
	if _, err := p.ParseBase64("not-base64!!!"); !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse for invalid base64. Got: %v", err)
	}
	if _, err := p.ParseBase64(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})); !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse for truncated wire data. Got: %v", err)
	}
}

func TestParseInput_StructuredIdentity(t *testing.T) {
	raw := json.RawMessage(`{
		"accounts": ["` + models.SystemProgramID + `", "` + models.TokenProgramID + `"],
		"instructions": [{"programIdIndex": 0, "accountIndexes": [1], "data": "03"}],
		"signaturesRequired": 1
	}`)

	p := New(65536)
	tx, err := p.ParseInput(raw)
	if err != nil {
		t.Fatalf("ParseInput failed: %v", err)
	}

	if len(tx.Programs) != 1 || tx.Programs[0] != models.SystemProgramID {
		t.Errorf("Expected program derived from index 0. Got: %v", tx.Programs)
	}
	if tx.FeePayer != models.SystemProgramID {
		t.Errorf("Expected fee payer defaulted to first account. Got: %s", tx.FeePayer)
	}
}

func TestParseInput_RejectsBadAccount(t *testing.T) {
	raw := json.RawMessage(`{
		"accounts": ["tooshort"],
		"instructions": [{"programIdIndex": 0, "accountIndexes": [0], "data": ""}]
	}`)

	p := New(65536)
	if _, err := p.ParseInput(raw); !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse for invalid account identifier. Got: %v", err)
	}
}

func TestParseInput_RejectsOutOfRangeIndex(t *testing.T) {
	raw := json.RawMessage(`{
		"accounts": ["` + models.SystemProgramID + `"],
		"instructions": [{"programIdIndex": 0, "accountIndexes": [7], "data": ""}]
	}`)

	p := New(65536)
	if _, err := p.ParseInput(raw); !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse for out-of-range account index. Got: %v", err)
	}
}

func TestParseInput_EmptyTransaction(t *testing.T) {
	raw := json.RawMessage(`{"accounts": [], "instructions": []}`)

	p := New(65536)
	tx, err := p.ParseInput(raw)
	if err != nil {
		t.Fatalf("Expected empty structured transaction to parse. Got: %v", err)
	}
	if len(tx.Programs) != 0 || len(tx.Instructions) != 0 {
		t.Errorf("Expected empty normalized shape. Got: %+v", tx)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	tx := &models.ParsedTransaction{
		Programs:           []string{models.TokenProgramID, models.SystemProgramID},
		Accounts:           []string{models.SystemProgramID},
		SignaturesRequired: 1,
	}
	reordered := &models.ParsedTransaction{
		Programs:           []string{models.SystemProgramID, models.TokenProgramID},
		Accounts:           []string{models.SystemProgramID},
		SignaturesRequired: 1,
	}

	a := Fingerprint(tx, "sha256")
	b := Fingerprint(reordered, "sha256")
	if a != b {
		t.Errorf("Expected program order not to affect the fingerprint. Got: %s vs %s", a, b)
	}

	if Fingerprint(tx, "sha256") == Fingerprint(tx, "sha256d") {
		t.Error("Expected sha256 and sha256d fingerprints to differ")
	}
}

func TestFingerprint_SensitiveToShape(t *testing.T) {
	base := &models.ParsedTransaction{
		Programs:           []string{models.SystemProgramID},
		SignaturesRequired: 1,
	}
	moreSigs := &models.ParsedTransaction{
		Programs:           []string{models.SystemProgramID},
		SignaturesRequired: 2,
	}

	if Fingerprint(base, "sha256") == Fingerprint(moreSigs, "sha256") {
		t.Error("Expected signature count to change the fingerprint")
	}
}

func TestParseCache_ServesRepeatBlobs(t *testing.T) {
	wire := buildWireTx(t, [][]byte{testKey(1)}, nil)
	blob := base64.StdEncoding.EncodeToString(wire)

	p := New(65536)
	first, err := p.ParseBase64(blob)
	if err != nil {
		t.Fatalf("ParseBase64 failed: %v", err)
	}
	second, err := p.ParseBase64(blob)
	if err != nil {
		t.Fatalf("Repeat ParseBase64 failed: %v", err)
	}
	if first != second {
		t.Error("Expected the second parse to come from the cache")
	}
}

func TestValidWallet(t *testing.T) {
	if !ValidWallet("") {
		t.Error("Expected empty wallet to be acceptable")
	}
	if !ValidWallet(models.SystemProgramID) {
		t.Error("Expected the system program identifier to validate")
	}
	if ValidWallet("short") {
		t.Error("Expected a short identifier to be rejected")
	}
	if ValidWallet(strings.Repeat("0", 40)) {
		t.Error("Expected a non-base58 identifier to be rejected")
	}
}
