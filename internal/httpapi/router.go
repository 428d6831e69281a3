package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/auth"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/slavepool"
	"github.com/coldroot-labs/barc/internal/wsapi"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It
// is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor
// signature manageable as the number of dependencies grows.
type RouterConfig struct {
	AuthService *auth.AuthService
	Registry    *job.Registry
	Runner      *runner.Runner
	Hub         *wsapi.Hub
	SlavePool   *slavepool.Pool
	Logger      *zap.Logger

	// Secure controls whether auth cookies are set with the Secure flag.
	// Set to true in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds and returns the fully configured Chi router. All
// routes are registered under /api/v1, plus top-level /healthz and
// /metrics endpoints for the orchestrator and Prometheus respectively.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger, cfg.Secure)
	jobHandler := NewJobHandler(cfg.Registry, cfg.Runner, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.AuthService, cfg.Logger)
	metricsCollector := NewMetricsCollector(cfg.Registry, cfg.Hub, cfg.SlavePool)

	r.Get("/healthz", Healthz)
	r.Get("/metrics", metricsCollector.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)

			// OIDC flow — public because the user is not yet authenticated.
			r.Get("/auth/oidc/login", authHandler.OIDCLogin)
			r.Get("/auth/oidc/callback", authHandler.OIDCCallback)

			// The websocket upgrade authenticates itself via the token
			// query parameter, since browsers cannot set a custom
			// Authorization header on the handshake request.
			r.Get("/ws", wsHandler.ServeWS)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.AuthService))

			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{uuid}", jobHandler.GetByID)
			r.Get("/jobs/{uuid}/running", jobHandler.GetRunning)
			r.Post("/jobs/{uuid}/trigger", jobHandler.Trigger)
			r.Post("/jobs/{uuid}/abort", jobHandler.Abort)
		})
	})

	return r
}
