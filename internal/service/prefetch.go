package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tracefact/evidenced/internal/adapter/otel"
	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain/reliability"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/eventbus"
)

// BatchRequest names the evidence a caller wants warm before it starts
// consuming: search queries and source domains to score.
type BatchRequest struct {
	Queries []search.Request `json:"queries"`
	Domains []string         `json:"domains"`
}

// BatchResult maps every input back to its answer. Queries are keyed by the
// submitted query text, domains by the submitted domain string; a key is
// always present, holding a degraded set or nil assessment when resolution
// failed. Partial success is the normal case, not an error.
type BatchResult struct {
	BatchID  string                             `json:"batch_id"`
	Queries  map[string]search.ResultSet        `json:"queries"`
	Domains  map[string]*reliability.Assessment `json:"domains"`
	Duration time.Duration                      `json:"duration"`
}

// PrefetchService fans a batch of queries and domains out across both
// resolvers with bounded concurrency, so batch warm-up cannot starve
// interactive traffic.
type PrefetchService struct {
	cfg         *config.Manager
	searches    *SearchService
	reliability *ReliabilityService
	bus         eventbus.Publisher
	metrics     *otel.Metrics
}

// NewPrefetchService creates a batch coordinator. bus and metrics may be nil.
func NewPrefetchService(
	cfg *config.Manager,
	searches *SearchService,
	reliability *ReliabilityService,
	bus eventbus.Publisher,
	metrics *otel.Metrics,
) *PrefetchService {
	return &PrefetchService{
		cfg:         cfg,
		searches:    searches,
		reliability: reliability,
		bus:         bus,
		metrics:     metrics,
	}
}

// Prefetch resolves every query and domain in the batch and returns once
// all of them have settled.
func (s *PrefetchService) Prefetch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	start := time.Now()
	cfg := s.cfg.Current()

	result := &BatchResult{
		BatchID: uuid.NewString(),
		Queries: make(map[string]search.ResultSet, len(req.Queries)),
		Domains: make(map[string]*reliability.Assessment, len(req.Domains)),
	}

	var sem *semaphore.Weighted
	if cfg.Prefetch.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(cfg.Prefetch.MaxInFlight))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)
			}
			task()
		}()
	}

	for _, q := range req.Queries {
		run(func() {
			set, err := s.searches.Resolve(ctx, q)
			if err != nil {
				slog.Warn("batch query failed", "batch_id", result.BatchID, "query", q.Query, "error", err)
				set = search.ResultSet{Results: []search.Result{}, Degraded: true}
			}
			mu.Lock()
			result.Queries[q.Query] = set
			mu.Unlock()
		})
	}

	for _, d := range req.Domains {
		run(func() {
			assessment, err := s.reliability.Assess(ctx, d)
			if err != nil {
				slog.Warn("batch domain failed", "batch_id", result.BatchID, "domain", d, "error", err)
				assessment = nil
			}
			mu.Lock()
			result.Domains[d] = assessment
			mu.Unlock()
		})
	}

	wg.Wait()
	result.Duration = time.Since(start)

	if s.metrics != nil {
		s.metrics.BatchDuration.Record(ctx, result.Duration.Seconds())
	}
	s.publishCompleted(ctx, result)

	slog.Info("prefetch batch completed",
		"batch_id", result.BatchID,
		"queries", len(result.Queries),
		"domains", len(result.Domains),
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (s *PrefetchService) publishCompleted(ctx context.Context, result *BatchResult) {
	if s.bus == nil {
		return
	}
	event := map[string]any{
		"batch_id":    result.BatchID,
		"queries":     len(result.Queries),
		"domains":     len(result.Domains),
		"duration_ms": result.Duration.Milliseconds(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "evidence.batch.completed", data); err != nil {
		slog.Error("publish batch event failed", "batch_id", result.BatchID, "error", err)
	}
}
