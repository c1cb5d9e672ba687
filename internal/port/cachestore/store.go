// Package cachestore defines the port interface for the keyed TTL store
// that fronts external search and evaluation services.
package cachestore

import (
	"context"
	"time"
)

// Entry is one stored value with its provenance and lifetime.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Provider  string    `json:"provider"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats summarizes a store's contents for the admin surface.
type Stats struct {
	TotalEntries   int64            `json:"total_entries"`
	ValidEntries   int64            `json:"valid_entries"`
	ExpiredEntries int64            `json:"expired_entries"`
	PerProvider    map[string]int64 `json:"per_provider"`
}

// Store is a keyed TTL store. Get treats expired entries as absent (lazy
// expiry); SweepExpired reclaims them eagerly and is safe to run concurrently
// with reads and writes. Put replaces an existing entry whole.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, value []byte, provider string, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int64, error)
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}
