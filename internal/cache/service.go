package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"sync/atomic"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Namespace-Keyed Cache Service
//
// Uniform get/set/delete/invalidate-by-pattern over a pluggable backend.
// Every namespace carries its own TTL, key prefix and compression flag.
// Gets run under a short per-call timeout and NEVER propagate errors
// upward — a sick backend degrades to misses, it does not break scans.
// Sets are fire-and-forget.
// ──────────────────────────────────────────────────────────────────────

// Namespace names used across the engine.
const (
	NSScanResults     = "scan_results"
	NSPatternMatches  = "pattern_matches"
	NSMLPredictions   = "ml_predictions"
	NSProgramAnalysis = "program_analysis"
	NSAccountAnalysis = "account_analysis"
	NSUserSessions    = "user_sessions"
)

// NamespaceConfig is the per-namespace policy.
type NamespaceConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Compress  bool
}

// DefaultNamespaces returns the production namespace table.
func DefaultNamespaces() map[string]NamespaceConfig {
	return map[string]NamespaceConfig{
		NSScanResults:     {TTL: 5 * time.Minute, KeyPrefix: "scan:"},
		NSPatternMatches:  {TTL: 30 * time.Minute, KeyPrefix: "pattern:"},
		NSMLPredictions:   {TTL: 10 * time.Minute, KeyPrefix: "ml:"},
		NSProgramAnalysis: {TTL: 1 * time.Hour, KeyPrefix: "program:"},
		NSAccountAnalysis: {TTL: 15 * time.Minute, KeyPrefix: "account:"},
		NSUserSessions:    {TTL: 24 * time.Hour, KeyPrefix: "session:", Compress: true},
	}
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Sets         uint64 `json:"sets"`
	Errors       uint64 `json:"errors"`
	BreakerState string `json:"breakerState"`
}

// Service is the multi-namespace cache tier.
type Service struct {
	backend    Backend
	namespaces map[string]NamespaceConfig
	breaker    *Breaker
	getTimeout time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
	errors atomic.Uint64
}

// NewService wires the cache tier over a backend.
func NewService(backend Backend, namespaces map[string]NamespaceConfig) *Service {
	if namespaces == nil {
		namespaces = DefaultNamespaces()
	}
	return &Service{
		backend:    backend,
		namespaces: namespaces,
		breaker:    NewBreaker(5, 60*time.Second),
		getTimeout: 50 * time.Millisecond,
	}
}

// Key builds the backend key for a namespace + identifier. Identifiers
// longer than 100 characters are replaced by a 32-hex-char hash so keys
// stay bounded regardless of caller input.
func (s *Service) Key(namespace, identifier string) string {
	cfg := s.namespaces[namespace]
	if len(identifier) > 100 {
		sum := sha256.Sum256([]byte(identifier))
		identifier = hex.EncodeToString(sum[:16])
	}
	return cfg.KeyPrefix + identifier
}

// Get fetches a value. A miss, timeout, open breaker or backend error all
// return (nil, false); errors never surface to the caller.
func (s *Service) Get(ctx context.Context, namespace, identifier string) ([]byte, bool) {
	if !s.breaker.Allow() {
		s.misses.Add(1)
		return nil, false
	}

	getCtx, cancel := context.WithTimeout(ctx, s.getTimeout)
	defer cancel()

	val, err := s.backend.Get(getCtx, s.Key(namespace, identifier))
	if err != nil {
		s.misses.Add(1)
		if err != ErrMiss {
			s.errors.Add(1)
			s.breaker.RecordFailure()
		} else {
			s.breaker.RecordSuccess()
		}
		return nil, false
	}

	s.breaker.RecordSuccess()
	val, err = maybeDecompress(val)
	if err != nil {
		s.errors.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return val, true
}

// GetJSON fetches and unmarshals a cached value.
func (s *Service) GetJSON(ctx context.Context, namespace, identifier string, out any) bool {
	val, ok := s.Get(ctx, namespace, identifier)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, out); err != nil {
		s.errors.Add(1)
		return false
	}
	return true
}

// Set stores a value asynchronously under the namespace TTL. The caller
// never waits on the backend.
func (s *Service) Set(ctx context.Context, namespace, identifier string, value []byte) {
	if !s.breaker.Allow() {
		return
	}
	cfg := s.namespaces[namespace]
	key := s.Key(namespace, identifier)

	payload := value
	if cfg.Compress && len(value) > 512 {
		if compressed, err := compress(value); err == nil && len(compressed) < len(value) {
			payload = compressed
		}
	}

	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		if err := s.backend.Set(setCtx, key, payload, cfg.TTL); err != nil {
			s.errors.Add(1)
			s.breaker.RecordFailure()
			return
		}
		s.breaker.RecordSuccess()
		s.sets.Add(1)
	}()
}

// SetJSON marshals and stores a value asynchronously.
func (s *Service) SetJSON(ctx context.Context, namespace, identifier string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[Cache] Failed to marshal value for %s/%s: %v", namespace, identifier, err)
		return
	}
	s.Set(ctx, namespace, identifier, data)
}

// Delete removes one entry. Best-effort.
func (s *Service) Delete(ctx context.Context, namespace, identifier string) {
	if !s.breaker.Allow() {
		return
	}
	if err := s.backend.Del(ctx, s.Key(namespace, identifier)); err != nil {
		s.breaker.RecordFailure()
		return
	}
	s.breaker.RecordSuccess()
}

// InvalidatePattern removes every entry in a namespace matching a glob
// suffix. Used by pattern reloads to drop stale match results.
func (s *Service) InvalidatePattern(ctx context.Context, namespace, glob string) int {
	if !s.breaker.Allow() {
		return 0
	}
	cfg := s.namespaces[namespace]
	deleted, err := s.backend.DeletePattern(ctx, cfg.KeyPrefix+glob)
	if err != nil {
		s.breaker.RecordFailure()
		return deleted
	}
	s.breaker.RecordSuccess()
	return deleted
}

// Ping probes the backend for health reporting.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Sets:         s.sets.Load(),
		Errors:       s.errors.Load(),
		BreakerState: s.breaker.State(),
	}
}

// compress gzips a payload. Decompression is magic-byte driven so values
// need no side-channel flag.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func maybeDecompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
