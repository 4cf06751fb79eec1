package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timkrebs/constrain-resolution/internal/metrics"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(handlers *Handlers, httpMetrics *metrics.HTTPMetrics, gatherer prometheus.Gatherer, maxUploadSize int64, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	r.Use(MaxUploadSize(maxUploadSize))
	if httpMetrics != nil {
		r.Use(MetricsMiddleware(httpMetrics))
	}

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		// Synchronous constrain operations
		r.Post("/resolve", handlers.Resolve)
		r.Post("/constrain", handlers.Constrain)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", handlers.CreateJob)
			r.Get("/", handlers.ListJobs)
			r.Get("/{id}", handlers.GetJob)
			r.Get("/{id}/stream", handlers.StreamJobStatus)
			r.Delete("/{id}", handlers.CancelJob)
		})

		r.Get("/images/{id}", handlers.GetImage)

		r.Get("/stats/queue", handlers.GetQueueStats)
	})

	return r
}
