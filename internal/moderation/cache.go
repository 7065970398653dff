package moderation

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// cacheEntry is an immutable memoised verdict.
type cacheEntry struct {
	verdict   domain.ModerationVerdict
	createdAt time.Time
}

// VerdictCache memoises moderation verdicts by exact text.
// Entries never change once written; a zero TTL keeps them for the process lifetime.
type VerdictCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	logger  *slog.Logger

	hits   int64
	misses int64
}

// NewVerdictCache creates an empty VerdictCache.
func NewVerdictCache(ttl time.Duration, logger *slog.Logger) *VerdictCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerdictCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		logger:  logger,
	}
}

// HashText derives the cache key for text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached verdict for text and records a hit or miss.
func (c *VerdictCache) Get(text string) (domain.ModerationVerdict, bool) {
	v, ok := c.Peek(text)

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	return v, ok
}

// Peek is Get without touching the statistics.
func (c *VerdictCache) Peek(text string) (domain.ModerationVerdict, bool) {
	key := HashText(text)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return domain.ModerationVerdict{}, false
	}
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return domain.ModerationVerdict{}, false
	}
	return copyVerdict(entry.verdict), true
}

// Set stores a verdict. Degraded verdicts are refused.
func (c *VerdictCache) Set(text string, v domain.ModerationVerdict) {
	if v.Degraded {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := HashText(text)
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = cacheEntry{verdict: copyVerdict(v), createdAt: time.Now()}

	c.logger.Debug("verdict cached",
		slog.String("cache_key", key[:12]+"..."),
		slog.Bool("flagged", v.Flagged),
	)
}

// Stats returns cache hit/miss statistics.
func (c *VerdictCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

func copyVerdict(v domain.ModerationVerdict) domain.ModerationVerdict {
	if v.Categories != nil {
		v.Categories = append([]string(nil), v.Categories...)
	}
	return v
}
