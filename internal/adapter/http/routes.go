package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/tracefact/evidenced/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Mutating
// admin routes require the admin API key when one is configured; rl may be
// nil to disable rate limiting.
func MountRoutes(r chi.Router, h *Handlers, adminKey string, rl *middleware.RateLimiter) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		if rl != nil {
			r.Use(rl.Handler)
		}
		r.Get("/search", h.Search)
		r.Get("/reliability/{domain}", h.Reliability)
		r.Get("/stats", h.Stats)
		r.Get("/breakers", h.ListBreakers)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(adminKey))
			r.Post("/prefetch", h.Prefetch)
			r.Post("/cache/sweep", h.SweepCache)
			r.Post("/cache/clear", h.ClearCache)
			r.Post("/breakers/reset", h.ResetBreakers)
			r.Post("/breakers/{provider}/reset", h.ResetBreaker)
			r.Post("/config/reload", h.ReloadConfig)
		})
	})
}
