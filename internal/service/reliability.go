package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tracefact/evidenced/internal/adapter/otel"
	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain"
	"github.com/tracefact/evidenced/internal/domain/reliability"
	"github.com/tracefact/evidenced/internal/port/cachestore"
	"github.com/tracefact/evidenced/internal/port/evaluator"
	"github.com/tracefact/evidenced/internal/resilience"
)

// ReliabilityService resolves a domain's trust score: cache first, then an
// importance filter that spares evaluator spend on throwaway hosts, then a
// parallel evaluator fan-out whose answers must agree before a score is
// accepted. Negative outcomes are cached briefly so a transient evaluator
// outage self-corrects on the next day's retry.
type ReliabilityService struct {
	cfg        *config.Manager
	store      cachestore.Store
	tracker    *resilience.Tracker
	evaluators map[string]evaluator.Evaluator
	filter     *importanceFilter
	metrics    *otel.Metrics
	now        func() time.Time // for testing
}

// NewReliabilityService creates a reliability resolver. Evaluator health is
// tracked under each evaluator's configured name. store and metrics may be
// nil.
func NewReliabilityService(
	cfg *config.Manager,
	store cachestore.Store,
	tracker *resilience.Tracker,
	evaluators map[string]evaluator.Evaluator,
	metrics *otel.Metrics,
) *ReliabilityService {
	return &ReliabilityService{
		cfg:        cfg,
		store:      store,
		tracker:    tracker,
		evaluators: evaluators,
		filter:     newImportanceFilter(),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Resolve answers one domain's reliability. The returned record always has
// an outcome; a nil score means "treat as neutral", never "zero trust".
func (s *ReliabilityService) Resolve(ctx context.Context, rawDomain string) (*reliability.Record, error) {
	host := reliability.NormalizeDomain(rawDomain)
	if host == "" {
		return nil, fmt.Errorf("%w: empty domain", domain.ErrValidation)
	}

	cfg := s.cfg.Current()

	if rec, ok := s.cacheGet(ctx, host); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Add(ctx, 1)
		}
		return rec, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Add(ctx, 1)
	}

	if rule, filtered := s.filter.Match(host, cfg.Filter); filtered {
		slog.Debug("domain filtered before evaluation", "domain", host, "rule", rule)
		rec := s.buildRecord(host, nil, 0, reliability.OutcomeFiltered, cfg.Cache)
		s.cachePut(ctx, rec, cfg.Cache)
		return rec, nil
	}

	evals := s.fanOut(ctx, host, cfg)
	score, confidence, outcome := consensus(evals, cfg.Consensus)

	var scorePtr *float64
	if outcome == reliability.OutcomeScored {
		scorePtr = &score
	} else {
		slog.Info("reliability inconclusive", "domain", host, "answers", len(evals))
	}

	rec := s.buildRecord(host, scorePtr, confidence, outcome, cfg.Cache)
	s.cachePut(ctx, rec, cfg.Cache)
	return rec, nil
}

// Assess is the caller-facing form of Resolve: nil means unknown/neutral.
func (s *ReliabilityService) Assess(ctx context.Context, rawDomain string) (*reliability.Assessment, error) {
	rec, err := s.Resolve(ctx, rawDomain)
	if err != nil {
		return nil, err
	}
	return rec.Assessment(), nil
}

// CacheStats exposes the backing store's contents for the admin surface.
// Per-provider counts group by outcome for this family.
func (s *ReliabilityService) CacheStats(ctx context.Context) (cachestore.Stats, error) {
	if s.store == nil {
		return cachestore.Stats{PerProvider: map[string]int64{}}, nil
	}
	return s.store.Stats(ctx)
}

// fanOut queries up to FanOut evaluators in parallel and returns the
// answers that arrived intact. Evaluators with an open circuit are passed
// over so a later configured one can take the slot. Evaluator errors are
// logged and settled against the health tracker, not returned; too few
// answers simply yields an inconclusive consensus.
func (s *ReliabilityService) fanOut(ctx context.Context, host string, cfg *config.Config) []reliability.Evaluation {
	selected := make([]config.Evaluator, 0, cfg.Consensus.FanOut)
	for _, ec := range cfg.Evaluators {
		if !ec.Enabled {
			continue
		}
		if _, ok := s.evaluators[ec.Name]; !ok {
			continue
		}
		if !s.tracker.IsAvailable(ec.Name) {
			continue
		}
		selected = append(selected, ec)
		if len(selected) == cfg.Consensus.FanOut {
			break
		}
	}

	var mu sync.Mutex
	var evals []reliability.Evaluation
	var wg sync.WaitGroup

	for _, ec := range selected {
		wg.Add(1)
		go func(ec config.Evaluator) {
			defer wg.Done()

			timeout := ec.Timeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if s.metrics != nil {
				s.metrics.EvaluatorCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("evaluator", ec.Name)))
			}

			eval, err := s.evaluators[ec.Name].Evaluate(callCtx, host)
			if err != nil {
				s.tracker.RecordFailure(ec.Name)
				slog.Warn("evaluator failed", "evaluator", ec.Name, "domain", host, "error", err)
				return
			}
			s.tracker.RecordSuccess(ec.Name)
			mu.Lock()
			evals = append(evals, eval)
			mu.Unlock()
		}(ec)
	}
	wg.Wait()
	return evals
}

// consensus folds evaluator answers into one outcome. It needs at least two
// answers, a score spread within the threshold, and a minimum confidence at
// or above the threshold; anything else is inconclusive. The consensus
// score is the mean, the consensus confidence the weakest evaluator's.
func consensus(evals []reliability.Evaluation, cfg config.Consensus) (score, confidence float64, outcome reliability.Outcome) {
	if len(evals) < 2 {
		return 0, 0, reliability.OutcomeInconclusive
	}

	minScore, maxScore := evals[0].Score, evals[0].Score
	minConf := evals[0].Confidence
	var sum float64
	for _, e := range evals {
		sum += e.Score
		if e.Score < minScore {
			minScore = e.Score
		}
		if e.Score > maxScore {
			maxScore = e.Score
		}
		if e.Confidence < minConf {
			minConf = e.Confidence
		}
	}

	if maxScore-minScore > cfg.SpreadThreshold {
		return 0, minConf, reliability.OutcomeInconclusive
	}
	if minConf < cfg.ConfidenceThreshold {
		return 0, minConf, reliability.OutcomeInconclusive
	}
	return sum / float64(len(evals)), minConf, reliability.OutcomeScored
}

func (s *ReliabilityService) buildRecord(host string, score *float64, confidence float64, outcome reliability.Outcome, cacheCfg config.Cache) *reliability.Record {
	now := s.now()
	var ttl time.Duration
	switch outcome {
	case reliability.OutcomeScored:
		ttl = cacheCfg.ReliabilityTTL
	case reliability.OutcomeFiltered:
		ttl = cacheCfg.ReliabilityFilteredTTL
	default:
		ttl = cacheCfg.ReliabilityNegativeTTL
	}
	return &reliability.Record{
		Domain:      host,
		Score:       score,
		Confidence:  confidence,
		Outcome:     outcome,
		EvaluatedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (s *ReliabilityService) cacheGet(ctx context.Context, host string) (*reliability.Record, bool) {
	if s.store == nil || !s.cfg.Current().Cache.Enabled {
		return nil, false
	}
	raw, ok, err := s.store.Get(ctx, host)
	if err != nil {
		slog.Error("reliability cache read failed", "domain", host, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rec reliability.Record
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		slog.Error("reliability cache entry corrupt", "domain", host, "error", err)
		return nil, false
	}
	return &rec, true
}

func (s *ReliabilityService) cachePut(ctx context.Context, rec *reliability.Record, cacheCfg config.Cache) {
	if s.store == nil || !cacheCfg.Enabled {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("marshal reliability record", "domain", rec.Domain, "error", err)
		return
	}
	ttl := rec.ExpiresAt.Sub(rec.EvaluatedAt)
	if err := s.store.Put(ctx, rec.Domain, data, string(rec.Outcome), ttl); err != nil {
		slog.Error("reliability cache write failed", "domain", rec.Domain, "error", err)
	}
}
