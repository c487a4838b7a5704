package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/repository"
)

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	API      *APIHandler
	Database repository.DatabaseHealth
	Metrics  *metrics.Metrics

	// MetricsPath is where the metrics are exposed; empty disables them.
	MetricsPath string

	// APIToken guards the /v1 routes; empty leaves them open.
	APIToken string

	Logger zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.With().Str("component", "router").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health check (no auth)
	r.Get("/health", healthHandler(cfg.Database))

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics.Handler())
	}

	if cfg.API != nil {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.APIToken))
			cfg.API.RegisterRoutes(r)
		})
	}

	return r
}

func healthHandler(db repository.DatabaseHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
