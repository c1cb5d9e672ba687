package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain/reliability"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/cachestore"
)

// fakeStore is an in-memory cachestore.Store with an injectable clock.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]cachestore.Entry
	now     func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string]cachestore.Entry),
		now:     time.Now,
	}
}

func (f *fakeStore) Get(_ context.Context, key string) (*cachestore.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || !f.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	out := e
	return &out, true, nil
}

func (f *fakeStore) Put(_ context.Context, key string, value []byte, provider string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.entries[key] = cachestore.Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Provider:  provider,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

func (f *fakeStore) SweepExpired(context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) Clear(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.entries))
	f.entries = make(map[string]cachestore.Entry)
	return n, nil
}

func (f *fakeStore) Stats(context.Context) (cachestore.Stats, error) {
	return cachestore.Stats{PerProvider: map[string]int64{}}, nil
}

// fakeProvider counts calls and delegates to fn.
type fakeProvider struct {
	name  string
	calls atomic.Int64
	fn    func(query string, params search.Params) ([]search.Result, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, query string, params search.Params) ([]search.Result, error) {
	f.calls.Add(1)
	return f.fn(query, params)
}

// fakeEvaluator counts calls and delegates to fn.
type fakeEvaluator struct {
	name  string
	calls atomic.Int64
	fn    func(domain string) (reliability.Evaluation, error)
}

func (f *fakeEvaluator) Name() string { return f.name }

func (f *fakeEvaluator) Evaluate(_ context.Context, domain string) (reliability.Evaluation, error) {
	f.calls.Add(1)
	return f.fn(domain)
}

// testConfig returns defaults with two providers and two evaluators wired
// to the fake client names used across these tests.
func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Providers = []config.Provider{
		{Name: "primary", Kind: "serper", Enabled: true, Priority: 1, Timeout: time.Second},
		{Name: "secondary", Kind: "brave", Enabled: true, Priority: 2, Timeout: time.Second},
	}
	cfg.Evaluators = []config.Evaluator{
		{Name: "judge-a", Enabled: true, Timeout: time.Second},
		{Name: "judge-b", Enabled: true, Timeout: time.Second},
	}
	return cfg
}
