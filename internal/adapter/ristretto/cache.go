// Package ristretto provides the in-process L1 tier for the tiered cache
// store, backed by dgraph-io/ristretto. Values are serialized cache entries;
// cost is their byte length.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Sizing heuristics for the admission frequency counters. Search result
// sets and reliability records serialize to roughly a kilobyte, and
// ristretto wants counters for about ten times the expected entry count.
const (
	avgEntryBytes    = 1 << 10
	countersPerEntry = 10
	minCounters      = 10_000
)

// Cache is a size-bounded byte cache. Expiry is per entry; anything beyond
// TTL eviction is cost-based and may discard entries early, which the
// tiered store treats as an ordinary miss.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of values.
func New(maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / avgEntryBytes * countersPerEntry
	if counters < minCounters {
		counters = minCounters
	}
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the value for key, if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := c.inner.Get(key)
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for ttl. Admission is best-effort.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear(_ context.Context) error {
	c.inner.Clear()
	return nil
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}
