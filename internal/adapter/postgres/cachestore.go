package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracefact/evidenced/internal/port/cachestore"
)

// CacheStore implements cachestore.Store on a shared cache_entries table.
// Each instance is bound to one family ("search" or "reliability") so the
// two resolvers own disjoint key spaces.
type CacheStore struct {
	pool   *pgxpool.Pool
	family string
}

// NewCacheStore creates a store scoped to the given family.
func NewCacheStore(pool *pgxpool.Pool, family string) *CacheStore {
	return &CacheStore{pool: pool, family: family}
}

// Get returns the entry for key, treating expired rows as absent.
func (s *CacheStore) Get(ctx context.Context, key string) (*cachestore.Entry, bool, error) {
	var e cachestore.Entry
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, provider, cached_at, expires_at
		 FROM cache_entries
		 WHERE family = $1 AND key = $2 AND expires_at > now()`,
		s.family, key,
	).Scan(&e.Key, &e.Value, &e.Provider, &e.CachedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s/%s: %w", s.family, key, err)
	}
	return &e, true, nil
}

// Put stores value under key for ttl, replacing any existing row whole.
func (s *CacheStore) Put(ctx context.Context, key string, value []byte, provider string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (family, key, value, provider, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4, now(), now() + make_interval(secs => $5))
		 ON CONFLICT (family, key) DO UPDATE SET
		   value = EXCLUDED.value,
		   provider = EXCLUDED.provider,
		   cached_at = EXCLUDED.cached_at,
		   expires_at = EXCLUDED.expires_at`,
		s.family, key, value, provider, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("cache put %s/%s: %w", s.family, key, err)
	}
	return nil
}

// SweepExpired eagerly deletes expired rows and returns the count.
func (s *CacheStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE family = $1 AND expires_at <= now()`, s.family)
	if err != nil {
		return 0, fmt.Errorf("cache sweep %s: %w", s.family, err)
	}
	return tag.RowsAffected(), nil
}

// Clear deletes every row in the family and returns the count.
func (s *CacheStore) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE family = $1`, s.family)
	if err != nil {
		return 0, fmt.Errorf("cache clear %s: %w", s.family, err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns entry counts for the family. Per-provider counts cover
// valid entries only.
func (s *CacheStore) Stats(ctx context.Context) (cachestore.Stats, error) {
	stats := cachestore.Stats{PerProvider: make(map[string]int64)}

	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE expires_at > now())
		 FROM cache_entries WHERE family = $1`, s.family,
	).Scan(&stats.TotalEntries, &stats.ValidEntries)
	if err != nil {
		return stats, fmt.Errorf("cache stats %s: %w", s.family, err)
	}
	stats.ExpiredEntries = stats.TotalEntries - stats.ValidEntries

	rows, err := s.pool.Query(ctx,
		`SELECT provider, count(*)
		 FROM cache_entries
		 WHERE family = $1 AND expires_at > now()
		 GROUP BY provider`, s.family)
	if err != nil {
		return stats, fmt.Errorf("cache stats %s: %w", s.family, err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var n int64
		if err := rows.Scan(&provider, &n); err != nil {
			return stats, fmt.Errorf("scan cache stats %s: %w", s.family, err)
		}
		stats.PerProvider[provider] = n
	}
	return stats, rows.Err()
}
