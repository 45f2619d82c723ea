package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// parseCache is the parser's private fingerprint-addressed cache.
// It is a first tier in front of the distributed cache service: parses
// are pure CPU work, so an in-process map with a short TTL is enough.
const (
	parseCacheTTL     = 5 * time.Minute
	parseCacheMaxSize = 2048
)

type parseEntry struct {
	tx        *models.ParsedTransaction
	expiresAt time.Time
}

type parseCache struct {
	mu      sync.RWMutex
	entries map[string]parseEntry
}

func newParseCache() *parseCache {
	return &parseCache{entries: make(map[string]parseEntry)}
}

func rawKey(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:16])
}

func (c *parseCache) get(blob string) (*models.ParsedTransaction, bool) {
	key := rawKey(blob)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.tx, true
}

func (c *parseCache) put(blob string, tx *models.ParsedTransaction) {
	key := rawKey(blob)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cheap pressure valve: drop expired entries first, then everything
	// if the map is still past the cap.
	if len(c.entries) >= parseCacheMaxSize {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= parseCacheMaxSize {
			c.entries = make(map[string]parseEntry)
		}
	}

	c.entries[key] = parseEntry{tx: tx, expiresAt: time.Now().Add(parseCacheTTL)}
}
