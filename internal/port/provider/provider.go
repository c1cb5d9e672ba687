// Package provider defines the port interface for external search providers.
package provider

import (
	"context"

	"github.com/tracefact/evidenced/internal/domain/search"
)

// SearchProvider is an external, independently-operated search service.
// Implementations are treated as opaque and unreliable; failure isolation
// lives in the resolver, not in the client.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, params search.Params) ([]search.Result, error)
}
