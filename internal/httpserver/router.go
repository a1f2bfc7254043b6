package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bookrec/internal/handlers"
	"bookrec/internal/metrics"
	"bookrec/internal/middleware"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxBodyBytes   = 64 * 1024
)

type Options struct {
	// RequestTimeout bounds each request; generation can take several
	// upstream attempts so this is generous by default.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// Ready is checked by /healthz when set.
	Ready func(ctx context.Context) error
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, recs *handlers.RecommendationHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.RequestLogger(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}/recommendations", recs.Recommendations)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				baseLogger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
