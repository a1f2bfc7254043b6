package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bookrec/internal/cache"
	"bookrec/internal/clock"
)

const (
	DefaultEndpoint = "/v1/chat/completions"

	// DefaultRateLimitWindow is the fixed request-count window.
	DefaultRateLimitWindow = 60 * time.Second
)

type Config struct {
	//required fields
	BaseURL string
	APIKey  string

	Endpoint string // default: /v1/chat/completions

	UpstreamTimeout time.Duration // per-attempt timeout (default: 30s)
	MaxRetries      int           // retry attempts after the first (default: 3)
	DisableRetries  bool          // force MaxRetries to 0
	BaseBackoff     time.Duration // delay before the first retry (default: 1s)
	BackoffFactor   float64       // delay multiplier per attempt (default: 2)
	MaxBackoff      time.Duration // cap on a single delay (default: 60s)

	DisableCache bool          // response cache is on unless disabled
	CacheTTL     time.Duration // response cache TTL (default: 5m)
	Cache        cache.Store   // default: in-process memory store

	RateLimitMaxRequests int           // per window (default: 50)
	RateLimitWindow      time.Duration // default: 60s

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	Clock      clock.Clock
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.APIKey == "" {
		return errors.New("APIKey is required")
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.DisableRetries {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = 50
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	cfg.Clock = clock.OrReal(cfg.Clock)

	return cfg
}

// CompletionClient owns all traffic to the completion service. It serves
// repeated requests from its response cache, throttles upstream attempts
// with a fixed request window and retries transient failures with backoff.
// It is safe for concurrent use.
type CompletionClient struct {
	cfg        Config
	httpClient *http.Client
	cache      cache.Store
	limiter    *RateLimiter
	clock      clock.Clock
	logger     *zap.Logger
}

// NewClient creates a completion client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*CompletionClient, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("llmclient")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	store := cfg.Cache
	if store == nil && !cfg.DisableCache {
		store = cache.NewMemoryStore(cfg.Clock)
	}

	return &CompletionClient{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      store,
		limiter:    NewRateLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow, cfg.Clock, logger),
		clock:      cfg.Clock,
		logger:     logger,
	}, nil
}

// defaultTransport creates a production-ready HTTP transport
// with connection pooling and reasonable timeouts.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Limiter exposes the request window limiter.
func (c *CompletionClient) Limiter() *RateLimiter {
	return c.limiter
}

// Close releases resources held by the client.
func (c *CompletionClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
