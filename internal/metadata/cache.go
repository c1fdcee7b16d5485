// Package metadata resolves the off-chain descriptive document a token's URI
// points at, caching results for the life of the process.
package metadata

import (
	"sync"

	"token-stream-lab/internal/domain"
)

// Entry is a cached resolution. Unresolvable entries record a failed fetch so
// the URI is not requested again.
type Entry struct {
	Metadata     *domain.Metadata
	Unresolvable bool
}

// Cache maps URIs to resolutions. Entries are never evicted; Clear exists for
// test teardown and operator resets.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the entry for uri.
func (c *Cache) Get(uri string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uri]
	return e, ok
}

// Put stores e for uri, replacing any previous entry.
func (c *Cache) Put(uri string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uri] = e
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of entries, resolvable or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
