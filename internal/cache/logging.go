package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bookrec/internal/metrics"
	"bookrec/pkg/logging/logging"
)

// LoggingStore wraps a Store with debug logging and hit/miss metrics.
type LoggingStore struct {
	inner  Store
	logger *zap.Logger
}

// NewLoggingStore returns a store that logs and records metrics. A nil logger
// defers to the request-scoped logger in ctx.
func NewLoggingStore(inner Store, logger *zap.Logger) Store {
	return &LoggingStore{inner: inner, logger: logger}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	tier := Tier(key)
	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheResultsTotal.WithLabelValues(tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", tier),
		zap.String("cache_key", key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		c.log(ctx).Warn("cache_get", append(fields, zap.Error(err))...)
	} else {
		c.log(ctx).Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.inner.Set(ctx, key, value, ttl)

	fields := []zap.Field{
		zap.String("cache_tier", Tier(key)),
		zap.String("cache_key", key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
	}

	if err != nil {
		c.log(ctx).Warn("cache_set", append(fields, zap.Error(err))...)
	} else {
		c.log(ctx).Debug("cache_set", fields...)
	}

	return err
}

func (c *LoggingStore) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	if err != nil {
		c.log(ctx).Warn("cache_delete",
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
	return err
}

func (c *LoggingStore) log(ctx context.Context) *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.L(ctx)
}
