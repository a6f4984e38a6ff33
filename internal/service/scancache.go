package service

import (
	"sync"
	"time"

	"github.com/raines/forensiq/internal/domain"
)

// ScanCacheEntry holds a previously computed per-dataset scan result and
// when it was built.
type ScanCacheEntry struct {
	Result  *domain.DatasetScanResult
	BuiltAt time.Time
}

// ScanCache is the per-dataset store of keyword-scan results. Single writer
// per key, last write wins; entries are invalidated explicitly when a
// dataset is deleted or re-processed, or swept by the TTL eviction job.
type ScanCache struct {
	mu      sync.RWMutex
	entries map[string]*ScanCacheEntry
}

// NewScanCache creates an empty scan cache.
func NewScanCache() *ScanCache {
	return &ScanCache{entries: map[string]*ScanCacheEntry{}}
}

// Get returns the cached entry for a dataset, if present.
func (c *ScanCache) Get(datasetID string) (*ScanCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[datasetID]
	return entry, ok
}

// Put stores a freshly computed per-dataset result.
func (c *ScanCache) Put(datasetID string, result *domain.DatasetScanResult) {
	c.mu.Lock()
	c.entries[datasetID] = &ScanCacheEntry{Result: result, BuiltAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops the entry for a dataset.
func (c *ScanCache) Invalidate(datasetID string) {
	c.mu.Lock()
	delete(c.entries, datasetID)
	c.mu.Unlock()
}

// EvictOlderThan drops entries built before the TTL horizon and returns the
// number evicted. Wired to a periodic sweep in main.
func (c *ScanCache) EvictOlderThan(ttl time.Duration) int {
	horizon := time.Now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, entry := range c.entries {
		if entry.BuiltAt.Before(horizon) {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of cached datasets.
func (c *ScanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
