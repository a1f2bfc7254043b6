package cache

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bookrec/internal/clock"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string
	Prefix  string
}

// New builds the configured backend wrapped in the logging decorator.
// Redis is only used when a client is supplied.
func New(cfg Config, redisClient *redis.Client, clk clock.Clock, logger *zap.Logger) Store {
	var inner Store
	switch {
	case cfg.Backend == BackendRedis && redisClient != nil:
		inner = NewRedisStore(redisClient, RedisConfig{Prefix: cfg.Prefix})
	default:
		inner = NewMemoryStore(clk)
	}
	return NewLoggingStore(inner, logger)
}
