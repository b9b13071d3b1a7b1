package handler

import (
	"net/http"
	"time"

	"policy-core/internal/authz"
	"policy-core/internal/config"
	"policy-core/internal/metrics"
	"policy-core/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	internalSecretHeader = "X-Internal-Secret"
	cronSecretHeader     = "X-Cron-Secret"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg *config.Config, services *service.ServiceFactory, m *metrics.Collector, checks map[string]HealthCheck, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := NewHealthHandler(checks, logger)
	router.Get("/health", health.Health)
	router.Method(http.MethodGet, "/metrics", m.Handler())

	chains := services.Chains()
	policies := NewPolicyHandler(services.PolicyService(), logger)
	lockouts := NewLockoutHandler(services.Lockout(), logger)
	reports := NewReportHandler(services.ReportService(), logger)
	archival := NewArchivalHandler(services.ArchivalJob(), logger)
	events := NewSecurityEventHandler(services.SecurityEventReader(), logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.With(RequireTier(chains, authz.TierViewer, logger)).Get("/policy", policies.GetPolicy)
			r.With(RequireTier(chains, authz.TierSuperAdmin, logger)).Put("/policy", policies.UpdatePolicy)
			r.With(RequireTier(chains, authz.TierAdmin, logger)).Post("/archival/run", archival.Run)
			r.With(RequireTier(chains, authz.TierAdmin, logger)).Get("/security-events", events.List)
		})

		r.Route("/auth/lockout", func(r chi.Router) {
			r.Use(RequireSecret(internalSecretHeader, cfg.Auth.InternalSecret, "INTERNAL_API_SECRET", logger))
			r.Post("/check", lockouts.Check)
			r.Post("/failure", lockouts.RecordFailure)
			r.Post("/success", lockouts.RecordSuccess)
		})

		r.Route("/reports", func(r chi.Router) {
			r.With(RateLimit(RateLimitOptions{
				Limiter:       services.Limiter(),
				Fingerprinter: services.Fingerprinter(),
				Limit:         cfg.RateLimit.Limit,
				Window:        cfg.RateLimit.Window,
				Events:        services.SecurityEvents(),
				Metrics:       m,
			}, logger)).Post("/classify", reports.Submit)
			r.With(RequireTier(chains, authz.TierAdmin, logger)).Post("/classify-update", reports.Review)
		})

		r.With(RequireSecret(cronSecretHeader, cfg.Auth.CronSecret, "CRON_SECRET", logger)).
			Post("/cron/archival", archival.Run)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}
