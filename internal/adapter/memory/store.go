// Package memory implements the keyed TTL store in process memory.
// Intended for development deployments and tests; it satisfies the same
// contract as the postgres store, including lazy expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tracefact/evidenced/internal/port/cachestore"
)

// Store is a mutex-guarded in-memory cachestore.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]cachestore.Entry
	now     func() time.Time // for testing
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]cachestore.Entry),
		now:     time.Now,
	}
}

// Get returns the entry for key; expired entries are absent.
func (s *Store) Get(_ context.Context, key string) (*cachestore.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	out := e
	return &out, true, nil
}

// Put replaces the entry for key.
func (s *Store) Put(_ context.Context, key string, value []byte, provider string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.entries[key] = cachestore.Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Provider:  provider,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

// SweepExpired deletes expired entries and returns the count.
func (s *Store) SweepExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Clear deletes every entry and returns the count.
func (s *Store) Clear(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries))
	s.entries = make(map[string]cachestore.Entry)
	return n, nil
}

// Stats returns entry counts; per-provider counts cover valid entries only.
func (s *Store) Stats(_ context.Context) (cachestore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := cachestore.Stats{PerProvider: make(map[string]int64)}
	now := s.now()
	for _, e := range s.entries {
		stats.TotalEntries++
		if now.Before(e.ExpiresAt) {
			stats.ValidEntries++
			stats.PerProvider[e.Provider]++
		} else {
			stats.ExpiredEntries++
		}
	}
	return stats, nil
}
