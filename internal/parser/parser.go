package parser

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Transaction Parser
//
// Accepts either a base64-encoded wire blob or a structured JSON object
// and normalizes both into models.ParsedTransaction. The wire layout is
// the legacy message format:
//
//   shortvec(signature count) + 64-byte signatures   (skipped, never kept)
//   3-byte header (required sigs, ro-signed, ro-unsigned)
//   shortvec(account count)   + 32-byte account keys (base58-encoded out)
//   32-byte recent blockhash
//   shortvec(instruction count) of
//     { program_id_index, shortvec(account indexes), shortvec(data) }
//
// Instruction data retention is capped at the first 64 bytes (hex) plus
// the full length, so raw payloads never outlive the parse step.
// ──────────────────────────────────────────────────────────────────────

// ErrParse tags every decoding or structural failure. The pipeline
// converts it into a minimum-information CAUTION result; the API maps it
// to a 400/422.
var ErrParse = errors.New("transaction parse failed")

const (
	signatureLen  = 64
	accountKeyLen = 32
	blockhashLen  = 32

	// dataRetention caps how many raw instruction-data bytes survive
	// parsing (hex-encoded in the normalized shape).
	dataRetention = 64
)

// Parser decodes and normalizes submitted transactions. It keeps a small
// fingerprint-addressed cache of recent parses (short TTL) since repeated
// scans of the same blob are common.
type Parser struct {
	maxSize int
	cache   *parseCache
}

// New creates a parser with the given input ceiling in bytes.
func New(maxSize int) *Parser {
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}
	return &Parser{
		maxSize: maxSize,
		cache:   newParseCache(),
	}
}

// ParseInput accepts the raw `transaction` field of a scan request: a JSON
// string holding a base64 blob, or a JSON object in structured form.
func (p *Parser) ParseInput(raw json.RawMessage) (*models.ParsedTransaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ErrParse)
	}

	var blob string
	if err := json.Unmarshal(raw, &blob); err == nil {
		return p.ParseBase64(blob)
	}

	var structured structuredTx
	if err := json.Unmarshal(raw, &structured); err != nil {
		return nil, fmt.Errorf("%w: transaction must be a base64 string or a JSON object", ErrParse)
	}
	return p.ParseStructured(structured)
}

// ParseBase64 decodes a base64 wire blob into the normalized shape.
func (p *Parser) ParseBase64(blob string) (*models.ParsedTransaction, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty transaction blob", ErrParse)
	}
	// Base64 inflates by 4/3; reject before decoding to bound allocation.
	if len(blob) > p.maxSize*4/3+4 {
		return nil, fmt.Errorf("%w: blob exceeds %d byte ceiling", ErrParse, p.maxSize)
	}

	if cached, ok := p.cache.get(blob); ok {
		return cached, nil
	}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrParse, err)
	}
	if len(data) > p.maxSize {
		return nil, fmt.Errorf("%w: decoded blob is %d bytes, ceiling is %d", ErrParse, len(data), p.maxSize)
	}

	tx, err := decodeWire(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	p.cache.put(blob, tx)
	return tx, nil
}

// structuredTx is the accepted structured form. Parsing an already-parsed
// transaction through this path is the identity modulo normalization.
type structuredTx struct {
	Programs           []string        `json:"programs"`
	Instructions       []structuredIns `json:"instructions"`
	Accounts           []string        `json:"accounts"`
	SignaturesRequired int             `json:"signaturesRequired"`
	RecentBlockhash    string          `json:"recentBlockhash"`
	FeePayer           string          `json:"feePayer"`
}

type structuredIns struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	AccountIndexes []int  `json:"accountIndexes"`
	Data           string `json:"data"` // hex-encoded
}

// ParseStructured normalizes a structured submission, enforcing the same
// retention caps and index invariants as the wire path.
func (p *Parser) ParseStructured(in structuredTx) (*models.ParsedTransaction, error) {
	if len(in.Accounts) == 0 && len(in.Instructions) > 0 {
		return nil, fmt.Errorf("%w: instructions present without an accounts table", ErrParse)
	}
	for _, acct := range in.Accounts {
		if !validIdentifier(acct) {
			return nil, fmt.Errorf("%w: invalid account identifier %q", ErrParse, acct)
		}
	}

	tx := &models.ParsedTransaction{
		Programs:           make([]string, 0, len(in.Programs)),
		Instructions:       make([]models.Instruction, 0, len(in.Instructions)),
		Accounts:           append([]string(nil), in.Accounts...),
		SignaturesRequired: in.SignaturesRequired,
		RecentBlockhash:    in.RecentBlockhash,
		FeePayer:           in.FeePayer,
	}

	for i, ins := range in.Instructions {
		dataBytes, err := hex.DecodeString(ins.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: data is not hex: %v", ErrParse, i, err)
		}
		tx.Instructions = append(tx.Instructions, models.Instruction{
			Index:          i,
			ProgramIDIndex: ins.ProgramIDIndex,
			AccountIndexes: append([]int(nil), ins.AccountIndexes...),
			DataHex:        truncateHex(dataBytes),
			DataLength:     len(dataBytes),
		})
	}

	if len(in.Programs) > 0 {
		tx.Programs = append(tx.Programs, in.Programs...)
	} else {
		// Derive the program list from instruction program indexes.
		for _, ins := range tx.Instructions {
			if ins.ProgramIDIndex >= 0 && ins.ProgramIDIndex < len(tx.Accounts) {
				tx.Programs = append(tx.Programs, tx.Accounts[ins.ProgramIDIndex])
			}
		}
	}

	if tx.FeePayer == "" && len(tx.Accounts) > 0 {
		tx.FeePayer = tx.Accounts[0]
	}

	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return tx, nil
}

// decodeWire walks the legacy binary message layout.
func decodeWire(data []byte) (*models.ParsedTransaction, error) {
	r := &reader{buf: data}

	sigCount, err := r.shortvec()
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrParse, err)
	}
	// Signatures are skipped wholesale; the engine never retains them.
	if err := r.skip(sigCount * signatureLen); err != nil {
		return nil, fmt.Errorf("%w: truncated signatures", ErrParse)
	}

	header, err := r.bytes(3)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated message header", ErrParse)
	}
	signaturesRequired := int(header[0])

	acctCount, err := r.shortvec()
	if err != nil {
		return nil, fmt.Errorf("%w: account count: %v", ErrParse, err)
	}
	accounts := make([]string, 0, acctCount)
	for i := 0; i < acctCount; i++ {
		key, err := r.bytes(accountKeyLen)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated account key %d", ErrParse, i)
		}
		accounts = append(accounts, base58.Encode(key))
	}

	blockhash, err := r.bytes(blockhashLen)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated recent blockhash", ErrParse)
	}

	insCount, err := r.shortvec()
	if err != nil {
		return nil, fmt.Errorf("%w: instruction count: %v", ErrParse, err)
	}

	tx := &models.ParsedTransaction{
		Accounts:           accounts,
		SignaturesRequired: signaturesRequired,
		RecentBlockhash:    base58.Encode(blockhash),
		Instructions:       make([]models.Instruction, 0, insCount),
		Programs:           make([]string, 0, insCount),
	}
	if len(accounts) > 0 {
		tx.FeePayer = accounts[0]
	}

	for i := 0; i < insCount; i++ {
		pidIdx, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: missing program index", ErrParse, i)
		}

		naccts, err := r.shortvec()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: account count: %v", ErrParse, i, err)
		}
		idxBytes, err := r.bytes(naccts)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: truncated account indexes", ErrParse, i)
		}
		indexes := make([]int, naccts)
		for j, b := range idxBytes {
			indexes[j] = int(b)
		}

		dataLen, err := r.shortvec()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: data length: %v", ErrParse, i, err)
		}
		dataBytes, err := r.bytes(dataLen)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: truncated data", ErrParse, i)
		}

		tx.Instructions = append(tx.Instructions, models.Instruction{
			Index:          i,
			ProgramIDIndex: int(pidIdx),
			AccountIndexes: indexes,
			DataHex:        truncateHex(dataBytes),
			DataLength:     dataLen,
		})

		if int(pidIdx) < len(accounts) {
			tx.Programs = append(tx.Programs, accounts[pidIdx])
		}
	}

	return tx, nil
}

// truncateHex hex-encodes at most the first dataRetention bytes.
func truncateHex(data []byte) string {
	if len(data) > dataRetention {
		data = data[:dataRetention]
	}
	return hex.EncodeToString(data)
}

// validIdentifier checks that an identifier is plausible base58 of a
// 32-byte key (the canonical 32..44 character range).
func validIdentifier(id string) bool {
	if len(id) < 32 || len(id) > 44 {
		return false
	}
	decoded := base58.Decode(id)
	return len(decoded) == accountKeyLen
}

// ValidWallet reports whether a caller-supplied wallet identifier is
// acceptable on the scan boundary. Empty is fine (wallet is optional).
func ValidWallet(wallet string) bool {
	return wallet == "" || validIdentifier(wallet)
}

// reader is a bounds-checked cursor over the wire blob.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("unexpected end of input")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.New("unexpected end of input")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) skip(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.New("unexpected end of input")
	}
	r.pos += n
	return nil
}

// shortvec decodes a compact-u16 length: little-endian, 7 bits per byte,
// at most 3 bytes.
func (r *reader) shortvec() (int, error) {
	value := 0
	for shift := 0; shift < 21; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, errors.New("shortvec length overflows 3 bytes")
}
