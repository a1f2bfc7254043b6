package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bookrec/internal/clock"
	"bookrec/internal/metrics"
)

// RateLimiter counts requests in a fixed window. The window starts with the
// first request and resets once now > windowStart + window. When the budget
// is spent, Wait suspends the caller until the reset. In-process only.
type RateLimiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	windowStart time.Time
	count       int

	clock  clock.Clock
	logger *zap.Logger
}

// NewRateLimiter returns a limiter allowing maxRequests per window.
// maxRequests <= 0 disables limiting.
func NewRateLimiter(maxRequests int, window time.Duration, clk clock.Clock, logger *zap.Logger) *RateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		max:    maxRequests,
		window: window,
		clock:  clock.OrReal(clk),
		logger: logger,
	}
}

// Wait consumes one request from the window, blocking until the window
// resets if it is exhausted. It returns ctx.Err() if ctx ends first.
func (l *RateLimiter) Wait(ctx context.Context) error {
	waited := false

	for {
		l.mu.Lock()
		now := l.clock.Now()
		resetAt := l.windowStart.Add(l.window)
		if l.windowStart.IsZero() || now.After(resetAt) {
			l.windowStart = now
			l.count = 0
			resetAt = now.Add(l.window)
		}

		if l.max <= 0 || l.count < l.max {
			l.count++
			l.mu.Unlock()
			return nil
		}

		// +1ms so the wake-up lands strictly past the reset instant
		wait := resetAt.Sub(now) + time.Millisecond
		count := l.count
		l.mu.Unlock()

		if !waited {
			waited = true
			metrics.RateLimitWaitsTotal.Inc()
			l.logger.Info("rate limit reached, waiting for window reset",
				zap.Int("requests", count),
				zap.Int("max_requests", l.max),
				zap.Duration("wait", wait),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// State returns the current window start and request count.
func (l *RateLimiter) State() (time.Time, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowStart, l.count
}
