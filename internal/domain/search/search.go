// Package search defines the query, result and cache-entry types for the
// evidence search side of the acquisition layer.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Params narrows a search request. The zero value means "no restriction".
type Params struct {
	MaxResults   int      `json:"max_results,omitempty"   yaml:"max_results"`
	DateRestrict string   `json:"date_restrict,omitempty" yaml:"date_restrict"` // "d", "w", "m" or "y"
	AllowDomains []string `json:"allow_domains,omitempty" yaml:"allow_domains"`
	DenyDomains  []string `json:"deny_domains,omitempty"  yaml:"deny_domains"`
}

// Result is a single evidence candidate returned by a search provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ResultSet is the resolver's answer for one query. Degraded marks total
// provider exhaustion; callers must treat it as "no evidence found", not as
// an error.
type ResultSet struct {
	Results  []Result `json:"results"`
	Provider string   `json:"provider,omitempty"`
	Cached   bool     `json:"cached"`
	Degraded bool     `json:"degraded"`
}

// Request pairs a query with its parameters.
type Request struct {
	Query  string `json:"query"`
	Params Params `json:"params"`
}

// CacheEntry is the persisted form of one resolved query.
// Entries are replaced whole on refresh, never mutated in place.
type CacheEntry struct {
	Key       string    `json:"key"`
	Query     string    `json:"query"`
	Params    Params    `json:"params"`
	Results   []Result  `json:"results"`
	Provider  string    `json:"provider"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheKey returns a digest that is a pure function of the logical query:
// whitespace-normalized query text plus parameters in a canonical order.
// Two requests that differ only in slice ordering produce the same key.
func (r Request) CacheKey() string {
	allow := append([]string(nil), r.Params.AllowDomains...)
	deny := append([]string(nil), r.Params.DenyDomains...)
	sort.Strings(allow)
	sort.Strings(deny)

	canonical := fmt.Sprintf("q=%s|max=%d|date=%s|allow=%s|deny=%s",
		NormalizeQuery(r.Query),
		r.Params.MaxResults,
		r.Params.DateRestrict,
		strings.Join(allow, ","),
		strings.Join(deny, ","),
	)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuery trims and collapses internal whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
