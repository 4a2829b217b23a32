// Package api provides the HTTP API for crmpush.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/api/handler"
	"github.com/crmpush/crmpush/internal/api/middleware"
	"github.com/crmpush/crmpush/internal/api/response"
)

// RegisterTokenPath is the device token registration route.
const RegisterTokenPath = "/api/v1/notifications/register-token"

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Tokens backs the registration route. When nil the route is not mounted.
	Tokens handler.TokenRegistrar

	// RegistrationAPIKey is the shared secret expected in the api-key header.
	// It also protects /api/v1/ops/status.
	RegistrationAPIKey string

	// RegistrationRateLimit is requests per minute per client IP (0 disables).
	RegistrationRateLimit int

	CORSAllowedOrigins []string
	RequireTLS         bool

	Poller          handler.PollerStats
	Providers       handler.ProviderHealth
	ReadinessChecks []handler.ReadinessCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "crmpush-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))           // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))         // Panic recovery
	r.Use(chimiddleware.RealIP)                    // Real IP extraction
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins)) // CORS for browser-based CRM consoles
	r.Use(middleware.SecurityHeaders)              // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))   // TLS enforcement behind a load balancer
	r.Use(middleware.ContentTypeJSON)              // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r, r.Method+" is not supported for "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Poller:    cfg.Poller,
		Providers: cfg.Providers,
		Checks:    cfg.ReadinessChecks,
	})
	apiKey := middleware.APIKey(cfg.RegistrationAPIKey)
	opsRateLimit := middleware.RateLimitByIP(middleware.OpsRateLimit)

	r.With(opsRateLimit).Get("/health", opsHandler.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(opsRateLimit)
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(apiKey).Get("/status", opsHandler.SystemStatus)
		})

		if cfg.Tokens != nil {
			registration := handler.NewRegistrationHandler(cfg.Tokens, cfg.Logger)
			r.Route("/notifications", func(r chi.Router) {
				if cfg.RegistrationRateLimit > 0 {
					limit := middleware.RegistrationRateLimit
					limit.RequestLimit = cfg.RegistrationRateLimit
					r.Use(middleware.RateLimitByIP(limit))
				}
				r.Use(apiKey)
				r.Use(middleware.RequireJSON)
				r.Post("/register-token", registration.RegisterToken)
			})
		}
	})

	return r
}
