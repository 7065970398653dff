package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeyPool is a shrinking round-robin set of credentials for one backend.
// Evicted credentials never come back for the lifetime of the pool.
type KeyPool struct {
	// name labels the pool in logs ("official", "token", "moderation").
	name string

	// keys holds the credentials still in rotation.
	keys []string

	// evicted records when each credential was removed.
	evicted map[string]time.Time

	// index is the atomic round-robin counter.
	index int64

	// mu protects keys and evicted.
	mu sync.RWMutex

	// total is the number of unique credentials the pool started with.
	total int
}

// NewKeyPool creates a KeyPool. Empty strings and duplicates are dropped.
func NewKeyPool(name string, keys []string) *KeyPool {
	p := &KeyPool{
		name:    name,
		keys:    make([]string, 0, len(keys)),
		evicted: make(map[string]time.Time),
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, exists := seen[key]; !exists {
			seen[key] = struct{}{}
			p.keys = append(p.keys, key)
		}
	}
	p.total = len(p.keys)

	return p
}

// Name returns the pool label.
func (p *KeyPool) Name() string {
	return p.name
}

// Next returns the next credential using round-robin selection.
// Returns ErrNoCredentials once every credential has been evicted.
func (p *KeyPool) Next() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := len(p.keys)
	if count == 0 {
		return "", ErrNoCredentials
	}

	// AddInt64 returns the new value; subtract 1 for the current slot.
	n := atomic.AddInt64(&p.index, 1)
	return p.keys[int((n-1)%int64(count))], nil
}

// Evict permanently removes a credential from rotation.
// Unknown or already evicted credentials are ignored.
func (p *KeyPool) Evict(key string) bool {
	if key == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, k := range p.keys {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	// Keep order so the rotation stays predictable.
	newKeys := make([]string, 0, len(p.keys)-1)
	newKeys = append(newKeys, p.keys[:idx]...)
	newKeys = append(newKeys, p.keys[idx+1:]...)
	p.keys = newKeys
	p.evicted[key] = time.Now()

	return true
}

// ActiveCount returns the number of credentials still in rotation.
func (p *KeyPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

// EvictedCount returns the number of evicted credentials.
func (p *KeyPool) EvictedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.evicted)
}

// TotalCount returns the number of credentials the pool started with.
func (p *KeyPool) TotalCount() int {
	return p.total
}
