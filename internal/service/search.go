package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tracefact/evidenced/internal/adapter/otel"
	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/cachestore"
	"github.com/tracefact/evidenced/internal/port/provider"
	"github.com/tracefact/evidenced/internal/resilience"
)

// SearchService resolves evidence queries: cache first, then healthy
// providers in priority order, degrading to an empty result set when every
// provider is down. Provider calls run on a detached context so a caller
// that gives up cannot corrupt health accounting; the eventual outcome is
// settled through the writeback worker.
type SearchService struct {
	cfg       *config.Manager
	store     cachestore.Store
	tracker   *resilience.Tracker
	clients   map[string]provider.SearchProvider
	writeback *WritebackWorker
	metrics   *otel.Metrics
	now       func() time.Time // for testing
}

// NewSearchService creates a search resolver. store and metrics may be nil;
// caching and instrumentation are then skipped.
func NewSearchService(
	cfg *config.Manager,
	store cachestore.Store,
	tracker *resilience.Tracker,
	clients map[string]provider.SearchProvider,
	writeback *WritebackWorker,
	metrics *otel.Metrics,
) *SearchService {
	return &SearchService{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		clients:   clients,
		writeback: writeback,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Resolve answers one search request. A degraded result set (no provider
// reachable, or the caller's deadline expired mid-failover) is a valid
// answer, not an error; it is never cached.
func (s *SearchService) Resolve(ctx context.Context, req search.Request) (search.ResultSet, error) {
	req.Query = search.NormalizeQuery(req.Query)
	if req.Query == "" {
		return search.ResultSet{}, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}

	cfg := s.cfg.Current()
	key := req.CacheKey()

	if entry, ok := s.cacheGet(ctx, key); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Add(ctx, 1)
		}
		return search.ResultSet{
			Results:  entry.Results,
			Provider: entry.Provider,
			Cached:   true,
		}, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Add(ctx, 1)
	}

	for _, pc := range orderedProviders(cfg.Providers, s.clients) {
		if ctx.Err() != nil {
			break
		}
		if !s.tracker.IsAvailable(pc.Name) {
			continue
		}

		client := s.clients[pc.Name]
		if s.metrics != nil {
			s.metrics.ProviderCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", pc.Name)))
		}

		results, abandoned, err := s.callProvider(ctx, client, req, pc.Timeout, key, cfg.Cache)
		if abandoned {
			break
		}
		if err != nil {
			s.tracker.RecordFailure(pc.Name)
			if s.metrics != nil {
				s.metrics.ProviderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", pc.Name)))
			}
			slog.Warn("search provider failed", "provider", pc.Name, "error", err)
			continue
		}

		s.tracker.RecordSuccess(pc.Name)
		s.cachePut(ctx, key, req, results, pc.Name, cfg.Cache)
		return search.ResultSet{Results: results, Provider: pc.Name}, nil
	}

	slog.Warn("search degraded, no provider answered", "query", req.Query)
	return search.ResultSet{Results: []search.Result{}, Degraded: true}, nil
}

// CacheStats exposes the backing store's contents for the admin surface.
func (s *SearchService) CacheStats(ctx context.Context) (cachestore.Stats, error) {
	if s.store == nil {
		return cachestore.Stats{PerProvider: map[string]int64{}}, nil
	}
	return s.store.Stats(ctx)
}

// callProvider runs one provider attempt on a context detached from the
// caller, bounded by the provider's own timeout. If the caller's context
// dies first the attempt is abandoned: its eventual outcome settles health
// and cache through the writeback worker instead of being discarded.
func (s *SearchService) callProvider(
	ctx context.Context,
	client provider.SearchProvider,
	req search.Request,
	timeout time.Duration,
	key string,
	cacheCfg config.Cache,
) (results []search.Result, abandoned bool, err error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	type outcome struct {
		results []search.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		r, callErr := client.Search(callCtx, req.Query, req.Params)
		done <- outcome{r, callErr}
	}()

	select {
	case out := <-done:
		return out.results, false, out.err
	case <-ctx.Done():
		name := client.Name()
		go func() {
			out := <-done
			enqueued := s.writeback.Enqueue(func(wctx context.Context) {
				if out.err != nil {
					s.tracker.RecordFailure(name)
					return
				}
				s.tracker.RecordSuccess(name)
				s.cachePut(wctx, key, req, out.results, name, cacheCfg)
			})
			if !enqueued {
				// The tracker must always see the outcome, or an admitted
				// half-open trial is never released. Tracker calls do not
				// block; only the cache write is lost with the task.
				if out.err != nil {
					s.tracker.RecordFailure(name)
				} else {
					s.tracker.RecordSuccess(name)
				}
			}
		}()
		return nil, true, nil
	}
}

func (s *SearchService) cacheGet(ctx context.Context, key string) (*search.CacheEntry, bool) {
	if s.store == nil || !s.cfg.Current().Cache.Enabled {
		return nil, false
	}
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Error("search cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry search.CacheEntry
	if err := json.Unmarshal(raw.Value, &entry); err != nil {
		slog.Error("search cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &entry, true
}

func (s *SearchService) cachePut(ctx context.Context, key string, req search.Request, results []search.Result, providerName string, cacheCfg config.Cache) {
	if s.store == nil || !cacheCfg.Enabled {
		return
	}
	now := s.now()
	entry := search.CacheEntry{
		Key:       key,
		Query:     req.Query,
		Params:    req.Params,
		Results:   results,
		Provider:  providerName,
		CachedAt:  now,
		ExpiresAt: now.Add(cacheCfg.SearchTTL),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("marshal search cache entry", "key", key, "error", err)
		return
	}
	if err := s.store.Put(ctx, key, data, providerName, cacheCfg.SearchTTL); err != nil {
		slog.Error("search cache write failed", "key", key, "error", err)
	}
}

// orderedProviders returns the enabled providers that have a constructed
// client, lowest priority number first.
func orderedProviders(configured []config.Provider, clients map[string]provider.SearchProvider) []config.Provider {
	out := make([]config.Provider, 0, len(configured))
	for _, pc := range configured {
		if !pc.Enabled {
			continue
		}
		if _, ok := clients[pc.Name]; !ok {
			continue
		}
		out = append(out, pc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
