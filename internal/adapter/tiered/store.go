// Package tiered layers an in-process L1 byte cache in front of a durable
// keyed TTL store.
package tiered

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tracefact/evidenced/internal/port/cache"
	"github.com/tracefact/evidenced/internal/port/cachestore"
)

// Store implements cachestore.Store by checking an L1 byte cache before the
// durable L2 store and backfilling L1 on L2 hits. Mutating operations
// (sweep, clear) go to L2; Clear also drops the whole L1 tier since L1 keys
// are not enumerable.
type Store struct {
	l1    cache.Cache
	l2    cachestore.Store
	l1TTL time.Duration
}

// New creates a tiered store. l1TTL caps how long backfilled entries live in
// L1; the entry's own remaining TTL applies when shorter.
func New(l1 cache.Cache, l2 cachestore.Store, l1TTL time.Duration) *Store {
	return &Store{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get checks L1, then L2. Expired L1 copies are ignored; L2 hits are
// backfilled into L1.
func (s *Store) Get(ctx context.Context, key string) (*cachestore.Entry, bool, error) {
	if data, ok, err := s.l1.Get(ctx, key); err == nil && ok {
		var e cachestore.Entry
		if json.Unmarshal(data, &e) == nil && time.Now().Before(e.ExpiresAt) {
			return &e, true, nil
		}
		_ = s.l1.Delete(ctx, key)
	}

	e, ok, err := s.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	s.backfill(ctx, key, e)
	return e, true, nil
}

// Put writes through to L2 and refreshes the L1 copy.
func (s *Store) Put(ctx context.Context, key string, value []byte, provider string, ttl time.Duration) error {
	if err := s.l2.Put(ctx, key, value, provider, ttl); err != nil {
		return err
	}
	now := time.Now()
	s.backfill(ctx, key, &cachestore.Entry{
		Key:       key,
		Value:     value,
		Provider:  provider,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	return nil
}

// SweepExpired delegates to L2; ristretto expires L1 entries on its own.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	return s.l2.SweepExpired(ctx)
}

// Clear empties L2 and drops the L1 tier.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	n, err := s.l2.Clear(ctx)
	if err != nil {
		return n, err
	}
	return n, s.l1.Clear(ctx)
}

// Stats reports L2 contents; L1 is a transparent copy.
func (s *Store) Stats(ctx context.Context) (cachestore.Stats, error) {
	return s.l2.Stats(ctx)
}

func (s *Store) backfill(ctx context.Context, key string, e *cachestore.Entry) {
	ttl := min(s.l1TTL, time.Until(e.ExpiresAt))
	if ttl <= 0 {
		return
	}
	if data, err := json.Marshal(e); err == nil {
		_ = s.l1.Set(ctx, key, data, ttl)
	}
}
