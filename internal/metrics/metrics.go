package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheResultsTotal counts cache lookups by tier (completion, recommendations)
	// and result (hit, miss, error).
	CacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrec_cache_results_total",
			Help: "Cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// CompletionAttemptsTotal counts upstream completion attempts by outcome
	// (success, retryable, permanent, transport).
	CompletionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrec_completion_attempts_total",
			Help: "Upstream completion attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RateLimitWaitsTotal counts calls that had to wait for the window to reset.
	RateLimitWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookrec_rate_limit_waits_total",
			Help: "Completion calls suspended by the request window limiter.",
		},
	)

	// RecommendationsTotal counts Recommend results by source (cache, generated, fallback).
	RecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrec_recommendations_total",
			Help: "Recommendation responses by source.",
		},
		[]string{"source"},
	)

	// BreakerState reports the generation circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookrec_breaker_state",
			Help: "Circuit breaker state by name.",
		},
		[]string{"name"},
	)

	// HTTPLatencySeconds is the HTTP latency per route.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookrec_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once at startup. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheResultsTotal,
			CompletionAttemptsTotal,
			RateLimitWaitsTotal,
			RecommendationsTotal,
			BreakerState,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request, labelled by the chi
// route pattern so user ids don't explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
