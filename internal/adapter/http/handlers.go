package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/domain/search"
	"github.com/tracefact/evidenced/internal/port/cachestore"
	"github.com/tracefact/evidenced/internal/resilience"
	"github.com/tracefact/evidenced/internal/service"
)

const maxBodySize = 1 << 20 // 1 MiB

// Handlers bundles the service dependencies behind the HTTP surface.
type Handlers struct {
	cfg         *config.Manager
	searches    *service.SearchService
	reliability *service.ReliabilityService
	prefetch    *service.PrefetchService
	tracker     *resilience.Tracker
	searchStore cachestore.Store
	relStore    cachestore.Store
}

// NewHandlers creates the handler set. The stores may be nil when caching
// is disabled; admin cache routes then report zero counts.
func NewHandlers(
	cfg *config.Manager,
	searches *service.SearchService,
	reliability *service.ReliabilityService,
	prefetch *service.PrefetchService,
	tracker *resilience.Tracker,
	searchStore, relStore cachestore.Store,
) *Handlers {
	return &Handlers{
		cfg:         cfg,
		searches:    searches,
		reliability: reliability,
		prefetch:    prefetch,
		tracker:     tracker,
		searchStore: searchStore,
		relStore:    relStore,
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Search resolves one evidence query from query parameters.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := search.Request{Query: q.Get("q")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid max_results")
			return
		}
		req.Params.MaxResults = n
	}
	req.Params.DateRestrict = q.Get("date_restrict")
	req.Params.AllowDomains = splitList(q.Get("allow_domains"))
	req.Params.DenyDomains = splitList(q.Get("deny_domains"))

	set, err := h.searches.Resolve(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// Reliability resolves one domain's trust record.
func (h *Handlers) Reliability(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reliability.Resolve(r.Context(), urlParam(r, "domain"))
	if err != nil {
		writeDomainError(w, err, "reliability resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Prefetch runs a batch of queries and domains.
func (h *Handlers) Prefetch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.BatchRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if len(req.Queries) == 0 && len(req.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}

	result, err := h.prefetch.Prefetch(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "prefetch failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats reports cache contents and provider health.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	searchStats, err := h.searches.CacheStats(r.Context())
	if err != nil {
		writeDomainError(w, err, "stats failed")
		return
	}
	relStats, err := h.reliability.CacheStats(r.Context())
	if err != nil {
		writeDomainError(w, err, "stats failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"search_cache":      searchStats,
		"reliability_cache": relStats,
		"providers":         h.tracker.Snapshots(),
	})
}

// SweepCache eagerly deletes expired entries in both cache families.
func (h *Handlers) SweepCache(w http.ResponseWriter, r *http.Request) {
	swept := map[string]int64{}
	for family, store := range map[string]cachestore.Store{
		"search":      h.searchStore,
		"reliability": h.relStore,
	} {
		if store == nil {
			swept[family] = 0
			continue
		}
		n, err := store.SweepExpired(r.Context())
		if err != nil {
			writeDomainError(w, err, "sweep failed")
			return
		}
		swept[family] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"swept": swept})
}

// ClearCache drops every entry in both cache families.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := map[string]int64{}
	for family, store := range map[string]cachestore.Store{
		"search":      h.searchStore,
		"reliability": h.relStore,
	} {
		if store == nil {
			cleared[family] = 0
			continue
		}
		n, err := store.Clear(r.Context())
		if err != nil {
			writeDomainError(w, err, "clear failed")
			return
		}
		cleared[family] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

// ListBreakers reports every provider circuit.
func (h *Handlers) ListBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshots())
}

// ResetBreaker closes one provider's circuit.
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	provider := urlParam(r, "provider")
	h.tracker.Reset(provider)
	writeJSON(w, http.StatusOK, h.tracker.Snapshot(provider))
}

// ResetBreakers closes every provider circuit.
func (h *Handlers) ResetBreakers(w http.ResponseWriter, _ *http.Request) {
	h.tracker.ResetAll()
	writeJSON(w, http.StatusOK, h.tracker.Snapshots())
}

// ReloadConfig re-reads the configuration file and applies tunables.
func (h *Handlers) ReloadConfig(w http.ResponseWriter, _ *http.Request) {
	if err := h.cfg.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reload failed: "+err.Error())
		return
	}
	cur := h.cfg.Current()
	h.tracker.Configure(cur.Breaker.FailureThreshold, cur.Breaker.ResetTimeout)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
