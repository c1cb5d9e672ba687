// Package cache defines the port interface for in-process byte caching (L1).
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value byte caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
