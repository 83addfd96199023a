package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/outs/outs-auth-go/internal/middleware"
	"github.com/outs/outs-auth-go/internal/observability"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Logger         *slog.Logger
	Auth           *AuthHandler
	Health         *HealthHandler
	Tokens         middleware.TokenVerifier
	LoginLimiter   middleware.Limiter
	KeyFunc        httprate.KeyFunc
	Throttle       *middleware.Throttle // optional
	Metrics        *observability.Metrics
	ExposeMetrics  bool
	AllowedOrigins []string
	Production     bool
}

// NewRouter builds the HTTP surface of the auth service.
func NewRouter(cfg RouterConfig) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(cfg.Metrics.Middleware)
	r.Use(middleware.SecureHeaders(cfg.Production))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.Throttle != nil {
		r.Use(cfg.Throttle.Handler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", cfg.Health.HandleHealth)
	r.Get("/ready", cfg.Health.HandleReady)
	if cfg.ExposeMetrics && cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.With(middleware.RateLimit(cfg.LoginLimiter, keyFunc, cfg.Logger, cfg.Metrics)).
		Post("/login", cfg.Auth.HandleLogin)
	r.Post("/refresh", cfg.Auth.HandleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.Tokens, cfg.Logger))
		r.Post("/logout", cfg.Auth.HandleLogout)
		r.Get("/me", cfg.Auth.HandleMe)
	})

	return r
}
