package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	httpadapter "github.com/tracefact/evidenced/internal/adapter/http"
	"github.com/tracefact/evidenced/internal/adapter/memory"
	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain/reliability"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/evaluator"
	"github.com/tracefact/evidenced/internal/port/provider"
	"github.com/tracefact/evidenced/internal/resilience"
	"github.com/tracefact/evidenced/internal/service"
)

type stubProvider struct {
	name string
	fail bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(_ context.Context, query string, _ search.Params) ([]search.Result, error) {
	if p.fail {
		return nil, context.DeadlineExceeded
	}
	return []search.Result{{Title: "hit", URL: "https://example.com/" + query, Snippet: "s"}}, nil
}

type stubEvaluator struct {
	name  string
	score float64
}

func (e *stubEvaluator) Name() string { return e.name }

func (e *stubEvaluator) Evaluate(context.Context, string) (reliability.Evaluation, error) {
	return reliability.Evaluation{Score: e.score, Confidence: 0.9}, nil
}

func newTestServer(t *testing.T, adminKey string) *httptest.Server {
	t.Helper()

	cfg := config.Defaults()
	cfg.Server.AdminAPIKey = adminKey
	cfg.Providers = []config.Provider{
		{Name: "primary", Kind: "serper", Enabled: true, Priority: 1, Timeout: time.Second},
	}
	cfg.Evaluators = []config.Evaluator{
		{Name: "judge-a", Enabled: true, Timeout: time.Second},
		{Name: "judge-b", Enabled: true, Timeout: time.Second},
	}
	mgr := config.NewStatic(&cfg)

	tracker := resilience.NewTracker(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout)
	searchStore := memory.New()
	relStore := memory.New()
	wb := service.NewWritebackWorker(16, time.Second)
	t.Cleanup(wb.Close)

	searches := service.NewSearchService(mgr, searchStore, tracker,
		map[string]provider.SearchProvider{"primary": &stubProvider{name: "primary"}}, wb, nil)
	rel := service.NewReliabilityService(mgr, relStore, tracker,
		map[string]evaluator.Evaluator{
			"judge-a": &stubEvaluator{name: "judge-a", score: 0.9},
			"judge-b": &stubEvaluator{name: "judge-b", score: 0.88},
		}, nil)
	prefetch := service.NewPrefetchService(mgr, searches, rel, nil, nil)

	h := httpadapter.NewHandlers(mgr, searches, rel, prefetch, tracker, searchStore, relStore)
	r := chi.NewRouter()
	httpadapter.MountRoutes(r, h, cfg.Server.AdminAPIKey, nil)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")
	var body map[string]string
	if status := getJSON(t, srv.URL+"/health", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	var set search.ResultSet
	status := getJSON(t, srv.URL+"/api/v1/search?q=solar+output&max_results=3", &set)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if set.Provider != "primary" || set.Cached {
		t.Errorf("set = %+v", set)
	}

	// same query again comes from cache
	status = getJSON(t, srv.URL+"/api/v1/search?q=solar++output&max_results=3", &set)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !set.Cached {
		t.Error("expected cached answer")
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	srv := newTestServer(t, "")
	if status := getJSON(t, srv.URL+"/api/v1/search?q=", nil); status != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", status)
	}
	if status := getJSON(t, srv.URL+"/api/v1/search?q=x&max_results=no", nil); status != http.StatusBadRequest {
		t.Errorf("bad max_results status = %d, want 400", status)
	}
}

func TestReliabilityEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	var rec reliability.Record
	status := getJSON(t, srv.URL+"/api/v1/reliability/reuters.com", &rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if rec.Outcome != reliability.OutcomeScored || rec.Score == nil {
		t.Errorf("record = %+v", rec)
	}

	status = getJSON(t, srv.URL+"/api/v1/reliability/blog.example.wordpress.com", &rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if rec.Outcome != reliability.OutcomeFiltered {
		t.Errorf("outcome = %q, want filtered", rec.Outcome)
	}
}

func TestPrefetchEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	body := `{"queries":[{"query":"solar output"}],"domains":["reuters.com"]}`
	resp, err := http.Post(srv.URL+"/api/v1/prefetch", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result service.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := result.Queries["solar output"]; !ok {
		t.Error("query missing from batch result")
	}
	if result.Domains["reuters.com"] == nil {
		t.Error("domain missing from batch result")
	}
}

func TestPrefetchEmptyBatch(t *testing.T) {
	srv := newTestServer(t, "")
	resp, err := http.Post(srv.URL+"/api/v1/prefetch", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	srv := newTestServer(t, "admin-secret")

	resp, err := http.Post(srv.URL+"/api/v1/cache/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d without key, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/cache/clear", nil)
	req.Header.Set("X-API-Key", "admin-secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d with key, want 200", resp.StatusCode)
	}
}

func TestStatsAndBreakerRoutes(t *testing.T) {
	srv := newTestServer(t, "")

	var stats map[string]json.RawMessage
	if status := getJSON(t, srv.URL+"/api/v1/stats", &stats); status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	for _, key := range []string{"search_cache", "reliability_cache", "providers"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}

	resp, err := http.Post(srv.URL+"/api/v1/breakers/primary/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("breaker reset status = %d", resp.StatusCode)
	}

	var health resilience.ProviderHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.State != resilience.StateClosed {
		t.Errorf("state = %q, want closed", health.State)
	}
}
