package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/eventbus"
)

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *fakeBus) Publish(_ context.Context, subject string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

var _ eventbus.Publisher = (*fakeBus)(nil)

func buildPrefetchService(cfg config.Config, bus eventbus.Publisher, providers []*fakeProvider, evaluators []*fakeEvaluator) *PrefetchService {
	mgr := config.NewStatic(&cfg)
	searches := buildSearchService(cfg, newFakeStore(), providers...)
	rel := buildReliabilityService(cfg, newFakeStore(), evaluators...)
	return NewPrefetchService(mgr, searches, rel, bus, nil)
}

func TestPrefetchEveryInputKeyed(t *testing.T) {
	cfg := testConfig()
	bus := &fakeBus{}
	svc := buildPrefetchService(cfg, bus,
		[]*fakeProvider{
			{name: "primary", fn: okResults},
			{name: "secondary", fn: failSearch},
		},
		[]*fakeEvaluator{
			{name: "judge-a", fn: fixedEval(0.9, 0.9)},
			{name: "judge-b", fn: fixedEval(0.88, 0.9)},
		})

	result, err := svc.Prefetch(context.Background(), BatchRequest{
		Queries: []search.Request{
			{Query: "solar output 2025"},
			{Query: "battery recycling"},
		},
		Domains: []string{
			"reuters.com",
			"blog.example.wordpress.com",
		},
	})
	if err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if result.BatchID == "" {
		t.Error("missing batch id")
	}

	for _, q := range []string{"solar output 2025", "battery recycling"} {
		if _, ok := result.Queries[q]; !ok {
			t.Errorf("query %q missing from result", q)
		}
	}
	if a := result.Domains["reuters.com"]; a == nil || math.Abs(a.Score-0.89) > 1e-9 {
		t.Errorf("reuters.com assessment = %+v, want scored 0.89", a)
	}
	if a, ok := result.Domains["blog.example.wordpress.com"]; !ok || a != nil {
		t.Errorf("filtered domain: present=%v assessment=%+v, want present nil", ok, a)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.subjects) != 1 || bus.subjects[0] != "evidence.batch.completed" {
		t.Errorf("published subjects = %v", bus.subjects)
	}
}

func TestPrefetchDegradedQueryStillKeyed(t *testing.T) {
	cfg := testConfig()
	svc := buildPrefetchService(cfg, nil,
		[]*fakeProvider{
			{name: "primary", fn: failSearch},
			{name: "secondary", fn: failSearch},
		},
		[]*fakeEvaluator{
			{name: "judge-a", fn: fixedEval(0.9, 0.9)},
			{name: "judge-b", fn: fixedEval(0.9, 0.9)},
		})

	result, err := svc.Prefetch(context.Background(), BatchRequest{
		Queries: []search.Request{{Query: "doomed"}},
	})
	if err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	set, ok := result.Queries["doomed"]
	if !ok {
		t.Fatal("degraded query missing from result")
	}
	if !set.Degraded {
		t.Error("expected degraded result set")
	}
}

func TestPrefetchBoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Prefetch.MaxInFlight = 2
	cfg.Cache.Enabled = false

	var inFlight, peak atomic.Int64
	slowSearch := func(string, search.Params) ([]search.Result, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return []search.Result{}, nil
	}

	svc := buildPrefetchService(cfg, nil,
		[]*fakeProvider{
			{name: "primary", fn: slowSearch},
			{name: "secondary", fn: slowSearch},
		},
		nil)

	var queries []search.Request
	for _, q := range []string{"a", "b", "c", "d", "e", "f"} {
		queries = append(queries, search.Request{Query: q})
	}
	if _, err := svc.Prefetch(context.Background(), BatchRequest{Queries: queries}); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrent provider calls = %d, want <= 2", got)
	}
}
