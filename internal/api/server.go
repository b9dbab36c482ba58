// Package api wires the Chi router: middleware, front-end notification
// endpoints, and the ops surface.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/clinicpulse/nudge-engine/internal/api/handler"
	"github.com/clinicpulse/nudge-engine/internal/cache"
	"github.com/clinicpulse/nudge-engine/internal/config"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/scheduler"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(store notify.Store, runner *scheduler.Runner, appCache *cache.Cache, cfg *config.Config, pool *pgxpool.Pool) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(store, runner, appCache, cfg, pool)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Front end: notification reads and mutations
		r.Get("/clinics/{clinicID}/notifications", h.ListNotifications)
		r.Get("/clinics/{clinicID}/notifications/stats", h.GetStats)
		r.Post("/notifications/{id}/read", h.MarkRead)
		r.Post("/notifications/{id}/dismiss", h.Dismiss)

		// Ops: scheduler surface
		r.Route("/ops", func(r chi.Router) {
			r.Post("/nudges/run", h.RunNudges)
			r.Post("/notifications/process-scheduled", h.ProcessScheduled)
			r.Post("/notifications/cleanup", h.CleanupExpired)
		})
	})

	return r
}
