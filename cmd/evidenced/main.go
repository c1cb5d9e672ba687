package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tracefact/evidenced/internal/adapter/brave"
	evhttp "github.com/tracefact/evidenced/internal/adapter/http"
	"github.com/tracefact/evidenced/internal/adapter/llmeval"
	"github.com/tracefact/evidenced/internal/adapter/memory"
	evnats "github.com/tracefact/evidenced/internal/adapter/nats"
	"github.com/tracefact/evidenced/internal/adapter/otel"
	"github.com/tracefact/evidenced/internal/adapter/postgres"
	"github.com/tracefact/evidenced/internal/adapter/ristretto"
	"github.com/tracefact/evidenced/internal/adapter/serper"
	"github.com/tracefact/evidenced/internal/adapter/tiered"
	"github.com/tracefact/evidenced/internal/config"
	"github.com/tracefact/evidenced/internal/logger"
	"github.com/tracefact/evidenced/internal/middleware"
	"github.com/tracefact/evidenced/internal/port/cachestore"
	"github.com/tracefact/evidenced/internal/port/evaluator"
	"github.com/tracefact/evidenced/internal/port/eventbus"
	"github.com/tracefact/evidenced/internal/port/provider"
	"github.com/tracefact/evidenced/internal/resilience"
	"github.com/tracefact/evidenced/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("EVIDENCED_CONFIG")
	if configPath == "" {
		configPath = config.DefaultConfigFile
	}

	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg := mgr.Current()

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"cache_backend", cfg.Cache.Backend,
		"providers", len(cfg.Providers),
		"evaluators", len(cfg.Evaluators),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	var searchStore, relStore cachestore.Store
	switch cfg.Cache.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		searchStore = postgres.NewCacheStore(pool, "search")
		relStore = postgres.NewCacheStore(pool, "reliability")
	case "memory":
		searchStore = memory.New()
		relStore = memory.New()
		slog.Info("using in-memory cache backend")
	}

	if cfg.Cache.L1MaxSizeMB > 0 {
		l1Search, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("ristretto: %w", err)
		}
		defer l1Search.Close()
		l1Rel, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("ristretto: %w", err)
		}
		defer l1Rel.Close()

		searchStore = tiered.New(l1Search, searchStore, cfg.Cache.L1TTL)
		relStore = tiered.New(l1Rel, relStore, cfg.Cache.L1TTL)
	}

	var bus eventbus.Publisher
	if cfg.NATS.URL != "" {
		natsBus, err := evnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsBus.Close() }()
		bus = natsBus
	}

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(ctx) }()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Resilience ---

	tracker := resilience.NewTracker(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout)
	tracker.OnChange(func(h resilience.ProviderHealth) {
		slog.Warn("provider circuit changed", "provider", h.Provider, "state", h.State)
		if h.State == resilience.StateOpen {
			metrics.BreakerOpens.Add(context.Background(), 1)
		}
		if bus != nil {
			publishHealth(bus, h)
		}
	})

	// --- External clients ---

	providers := buildProviders(cfg.Providers)
	evaluators := buildEvaluators(cfg.Evaluators)
	if len(providers) == 0 {
		slog.Warn("no search providers constructed, all searches will degrade")
	}

	// --- Services ---

	writeback := service.NewWritebackWorker(cfg.Prefetch.WritebackBuffer, cfg.Prefetch.WritebackTimeout)
	defer writeback.Close()

	searches := service.NewSearchService(mgr, searchStore, tracker, providers, writeback, metrics)
	rel := service.NewReliabilityService(mgr, relStore, tracker, evaluators, metrics)
	prefetch := service.NewPrefetchService(mgr, searches, rel, bus, metrics)

	// --- HTTP ---

	handlers := evhttp.NewHandlers(mgr, searches, rel, prefetch, tracker, searchStore, relStore)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(evhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	var rl *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		rl = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	evhttp.MountRoutes(r, handlers, cfg.Server.AdminAPIKey, rl)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP reloads tunables without a restart
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := mgr.Reload(); err != nil {
				slog.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			cur := mgr.Current()
			tracker.Configure(cur.Breaker.FailureThreshold, cur.Breaker.ResetTimeout)
			slog.Info("config reloaded")
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildProviders constructs a client per enabled provider. Providers
// without an API key are skipped with a warning so a partial deployment
// still starts.
func buildProviders(configured []config.Provider) map[string]provider.SearchProvider {
	out := make(map[string]provider.SearchProvider)
	for _, pc := range configured {
		if !pc.Enabled {
			continue
		}
		if pc.APIKey == "" {
			slog.Warn("provider has no API key, skipping", "provider", pc.Name)
			continue
		}
		switch pc.Kind {
		case "serper":
			out[pc.Name] = serper.NewClient(pc.Name, pc.BaseURL, pc.APIKey, pc.Timeout)
		case "brave":
			out[pc.Name] = brave.NewClient(pc.Name, pc.BaseURL, pc.APIKey, pc.Timeout)
		default:
			slog.Warn("unknown provider kind, skipping", "provider", pc.Name, "kind", pc.Kind)
		}
	}
	return out
}

func buildEvaluators(configured []config.Evaluator) map[string]evaluator.Evaluator {
	out := make(map[string]evaluator.Evaluator)
	for _, ec := range configured {
		if !ec.Enabled {
			continue
		}
		out[ec.Name] = llmeval.NewClient(ec.Name, ec.BaseURL, ec.APIKey, ec.Model, ec.Timeout)
	}
	return out
}

func publishHealth(bus eventbus.Publisher, h resilience.ProviderHealth) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := []byte(fmt.Sprintf(`{"provider":%q,"state":%q}`, h.Provider, h.State))
	if err := bus.Publish(ctx, "evidence.breaker."+string(h.State), data); err != nil {
		slog.Error("publish breaker event failed", "provider", h.Provider, "error", err)
	}
}
