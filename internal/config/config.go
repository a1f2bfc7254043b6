// Package config loads runtime settings from an optional YAML file and
// environment overrides, then validates them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bookrec/internal/cache"
	"bookrec/internal/llm"
	"bookrec/internal/recommend"
)

type Config struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Cache           CacheConfig           `yaml:"cache"`
	LLM             LLMConfig             `yaml:"llm"`
	Recommendations RecommendationsConfig `yaml:"recommendations"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required,numeric"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type CacheConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=memory redis"`
	RedisAddr string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	Prefix    string `yaml:"prefix"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// APIKey is usually supplied through LLM_API_KEY rather than the file.
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float32 `yaml:"temperature" validate:"gt=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gt=0"`

	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gt=0"`

	RateLimitMaxRequests int `yaml:"rate_limit_max_requests" validate:"gt=0"`

	MaxRetries    int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"gte=1"`
	BaseBackoff   time.Duration `yaml:"base_backoff" validate:"gt=0"`
	MaxBackoff    time.Duration `yaml:"max_backoff" validate:"gtefield=BaseBackoff"`
}

type RecommendationsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gt=0"`

	// GenerationTimeout must leave room for the fallback inside
	// Server.RequestTimeout.
	GenerationTimeout time.Duration `yaml:"generation_timeout" validate:"gt=0"`

	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerFailureThreshold uint32        `yaml:"breaker_failure_threshold" validate:"gt=0"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout" validate:"gt=0"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            "8080",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    64 * 1024,
		},
		Database: DatabaseConfig{
			Path: "bookrec.db",
		},
		Cache: CacheConfig{
			Backend:   cache.BackendMemory,
			RedisAddr: "127.0.0.1:6379",
			Prefix:    "bookrec",
		},
		LLM: LLMConfig{
			BaseURL:              "https://api.openai.com",
			Model:                "gpt-4o-mini",
			Temperature:          recommend.DefaultTemperature,
			MaxTokens:            recommend.DefaultMaxTokens,
			RequestTimeout:       30 * time.Second,
			CacheEnabled:         true,
			CacheTTL:             5 * time.Minute,
			RateLimitMaxRequests: 50,
			MaxRetries:           3,
			BackoffFactor:        2,
			BaseBackoff:          time.Second,
			MaxBackoff:           60 * time.Second,
		},
		Recommendations: RecommendationsConfig{
			CacheTTL:                recommend.DefaultCacheTTL,
			GenerationTimeout:       recommend.DefaultGenerationTimeout,
			BreakerEnabled:          true,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
	}
}

// Load applies, in order: Defaults, the YAML file at path (skipped when path
// is empty), environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateBudgets()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// validateBudgets checks relations between sections that struct tags can't
// express.
func (c Config) validateBudgets() error {
	if c.Recommendations.GenerationTimeout >= c.Server.RequestTimeout {
		return fmt.Errorf("config: invalid: Config.Recommendations.GenerationTimeout (%s) must be below Config.Server.RequestTimeout (%s)",
			c.Recommendations.GenerationTimeout, c.Server.RequestTimeout)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from the process environment. Unset or empty
// variables leave the current value alone.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString("LOG_LEVEL", &c.LogLevel)

	e.setString("PORT", &c.Server.Port)
	e.setDuration("REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	e.setString("DB_PATH", &c.Database.Path)

	e.setString("CACHE_BACKEND", &c.Cache.Backend)
	e.setString("REDIS_ADDR", &c.Cache.RedisAddr)
	e.setString("CACHE_PREFIX", &c.Cache.Prefix)

	e.setString("LLM_BASE_URL", &c.LLM.BaseURL)
	e.setString("LLM_API_KEY", &c.LLM.APIKey)
	e.setString("LLM_MODEL", &c.LLM.Model)
	e.setFloat32("LLM_TEMPERATURE", &c.LLM.Temperature)
	e.setInt("LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	e.setDuration("LLM_REQUEST_TIMEOUT", &c.LLM.RequestTimeout)
	e.setBool("LLM_CACHE_ENABLED", &c.LLM.CacheEnabled)
	e.setDuration("LLM_CACHE_TTL", &c.LLM.CacheTTL)
	e.setInt("LLM_RATE_LIMIT_MAX_REQUESTS", &c.LLM.RateLimitMaxRequests)
	e.setInt("LLM_MAX_RETRIES", &c.LLM.MaxRetries)
	e.setFloat64("LLM_BACKOFF_FACTOR", &c.LLM.BackoffFactor)
	e.setDuration("LLM_BASE_BACKOFF", &c.LLM.BaseBackoff)

	e.setDuration("RECOMMENDATION_CACHE_TTL", &c.Recommendations.CacheTTL)
	e.setDuration("RECOMMENDATION_GENERATION_TIMEOUT", &c.Recommendations.GenerationTimeout)
	e.setBool("RECOMMENDATION_BREAKER_ENABLED", &c.Recommendations.BreakerEnabled)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: env %s=%q: %w", key, v, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat64(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setFloat32(key string, dst *float32) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = float32(f)
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

// CompletionConfig maps the llm section onto the completion client config.
func (c Config) CompletionConfig() llm.Config {
	return llm.Config{
		BaseURL:              c.LLM.BaseURL,
		APIKey:               c.LLM.APIKey,
		UpstreamTimeout:      c.LLM.RequestTimeout,
		MaxRetries:           c.LLM.MaxRetries,
		DisableRetries:       c.LLM.MaxRetries == 0,
		BaseBackoff:          c.LLM.BaseBackoff,
		BackoffFactor:        c.LLM.BackoffFactor,
		MaxBackoff:           c.LLM.MaxBackoff,
		DisableCache:         !c.LLM.CacheEnabled,
		CacheTTL:             c.LLM.CacheTTL,
		RateLimitMaxRequests: c.LLM.RateLimitMaxRequests,
	}
}

// RecommendConfig maps the llm and recommendations sections onto the
// orchestrator config.
func (c Config) RecommendConfig() recommend.Config {
	return recommend.Config{
		Model:             c.LLM.Model,
		Temperature:       c.LLM.Temperature,
		MaxTokens:         c.LLM.MaxTokens,
		CacheTTL:          c.Recommendations.CacheTTL,
		GenerationTimeout: c.Recommendations.GenerationTimeout,
		Breaker: recommend.BreakerConfig{
			Disabled:         !c.Recommendations.BreakerEnabled,
			FailureThreshold: c.Recommendations.BreakerFailureThreshold,
			OpenTimeout:      c.Recommendations.BreakerOpenTimeout,
		},
	}
}

// StoreConfig maps the cache section onto the cache factory config.
func (c Config) StoreConfig() cache.Config {
	return cache.Config{
		Backend: c.Cache.Backend,
		Prefix:  c.Cache.Prefix,
	}
}
