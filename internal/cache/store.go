package cache

import (
	"context"
	"strings"
	"time"
)

// Store is a byte-oriented TTL cache. Implemented by the in-process memory
// store (default) and Redis.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Tier returns the namespace portion of a key (everything before the first
// colon), used to label logs and metrics.
func Tier(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}
