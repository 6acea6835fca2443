// Package cache provides KeyCache implementations: an in-memory map for
// tests and short-lived sessions, and a SQLite store that survives restarts.
package cache

import (
	"sync"

	"github.com/benwis/bmail/internal/bmail"
)

// MemoryCache is a map-backed KeyCache. Reads take the read lock, writes the
// write lock; last Put for a DID wins wholesale.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]bmail.PublicKeyRecord
}

var _ bmail.KeyCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]bmail.PublicKeyRecord)}
}

func (c *MemoryCache) Get(did string) (*bmail.PublicKeyRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[did]
	if !ok {
		return nil, false, nil
	}
	out := rec
	return &out, true, nil
}

func (c *MemoryCache) Put(record *bmail.PublicKeyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[record.Identity.DID] = *record
	return nil
}

func (c *MemoryCache) Delete(did string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, did)
	return nil
}

func (c *MemoryCache) Close() error { return nil }
