package recommend

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"bookrec/internal/metrics"
)

const breakerName = "recommend-generation"

// BreakerConfig controls the circuit breaker around generation. While open,
// Recommend skips the completion service and serves the fallback.
type BreakerConfig struct {
	Disabled bool
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker (default 5).
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial request
	// (default 30s).
	OpenTimeout time.Duration
	// Interval resets failure counts while closed (default 0, never).
	Interval time.Duration
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[[]Candidate] {
	if cfg.Disabled {
		return nil
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[[]Candidate](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
