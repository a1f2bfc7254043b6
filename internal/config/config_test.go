package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookrec.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Recommendations.CacheTTL != 24*time.Hour {
		t.Fatalf("recommendation cache TTL = %v", cfg.Recommendations.CacheTTL)
	}
	if cfg.LLM.Temperature != 0.7 || cfg.LLM.MaxTokens != 1500 {
		t.Fatalf("unexpected generation defaults: %+v", cfg.LLM)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, `
log_level: debug
server:
  port: "9090"
database:
  path: /var/lib/bookrec/catalog.db
llm:
  model: gpt-4o
  cache_enabled: false
  cache_ttl: 90s
  max_retries: 5
recommendations:
  cache_ttl: 12h
`)

	t.Setenv("LLM_MODEL", "gpt-4.1-mini")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Server.Port != "9090" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Database.Path != "/var/lib/bookrec/catalog.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
	if cfg.LLM.Model != "gpt-4.1-mini" {
		t.Fatalf("env should override file, model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("api key not read from env")
	}
	if cfg.LLM.CacheEnabled || cfg.LLM.CacheTTL != 90*time.Second || cfg.LLM.MaxRetries != 5 {
		t.Fatalf("llm file values not applied: %+v", cfg.LLM)
	}
	if cfg.Recommendations.CacheTTL != 12*time.Hour {
		t.Fatalf("recommendation ttl = %v", cfg.Recommendations.CacheTTL)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.RateLimitMaxRequests != 50 || cfg.Cache.Backend != "memory" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL == "" {
		t.Fatalf("defaults not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "server: [not, a, map]\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	err := cfg.applyEnv(envMap(map[string]string{
		"CACHE_BACKEND":               "redis",
		"REDIS_ADDR":                  "cache:6379",
		"LLM_TEMPERATURE":             "0.2",
		"LLM_RATE_LIMIT_MAX_REQUESTS": "10",
		"LLM_CACHE_ENABLED":           "false",
		"LLM_BASE_BACKOFF":            "250ms",
		"RECOMMENDATION_CACHE_TTL":    "1h",
		"LOG_LEVEL":                   "   ",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "cache:6379" {
		t.Fatalf("cache env not applied: %+v", cfg.Cache)
	}
	if cfg.LLM.Temperature != float32(0.2) || cfg.LLM.RateLimitMaxRequests != 10 || cfg.LLM.CacheEnabled {
		t.Fatalf("llm env not applied: %+v", cfg.LLM)
	}
	if cfg.LLM.BaseBackoff != 250*time.Millisecond || cfg.Recommendations.CacheTTL != time.Hour {
		t.Fatalf("durations not applied")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("blank env should be ignored, got %q", cfg.LogLevel)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	err := cfg.applyEnv(envMap(map[string]string{
		"LLM_MAX_TOKENS":    "lots",
		"LLM_CACHE_TTL":     "forever",
		"LLM_CACHE_ENABLED": "sometimes",
	}))
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"LLM_MAX_TOKENS", "LLM_CACHE_TTL", "LLM_CACHE_ENABLED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error should mention %s: %v", key, err)
		}
	}
	if cfg.LLM.MaxTokens != 1500 {
		t.Fatalf("bad value should not overwrite, got %d", cfg.LLM.MaxTokens)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"non numeric port", func(c *Config) { c.Server.Port = "http" }, "Port"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "Backend"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }, "RedisAddr"},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 2.5 }, "Temperature"},
		{"zero temperature", func(c *Config) { c.LLM.Temperature = 0 }, "Temperature"},
		{"generation outlives request", func(c *Config) { c.Recommendations.GenerationTimeout = c.Server.RequestTimeout }, "GenerationTimeout"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "Model"},
		{"bad url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "BaseURL"},
		{"backoff factor below one", func(c *Config) { c.LLM.BackoffFactor = 0.5 }, "BackoffFactor"},
		{"max backoff below base", func(c *Config) { c.LLM.MaxBackoff = time.Millisecond }, "MaxBackoff"},
		{"zero recommendation ttl", func(c *Config) { c.Recommendations.CacheTTL = 0 }, "CacheTTL"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "Path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("error should name %s: %v", tt.field, err)
			}
		})
	}
}

func TestComponentConfigs(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.MaxRetries = 0
	cfg.LLM.CacheEnabled = false
	cfg.Recommendations.BreakerEnabled = false

	cc := cfg.CompletionConfig()
	if cc.APIKey != "sk-test" || !cc.DisableRetries || !cc.DisableCache {
		t.Fatalf("completion config not mapped: %+v", cc)
	}
	if cc.RateLimitMaxRequests != 50 || cc.BackoffFactor != 2 || cc.BaseBackoff != time.Second {
		t.Fatalf("completion config not mapped: %+v", cc)
	}

	rc := cfg.RecommendConfig()
	if rc.Model != "gpt-4o-mini" || rc.CacheTTL != 24*time.Hour || !rc.Breaker.Disabled || rc.GenerationTimeout != 45*time.Second {
		t.Fatalf("recommend config not mapped: %+v", rc)
	}

	sc := cfg.StoreConfig()
	if sc.Backend != "memory" || sc.Prefix != "bookrec" {
		t.Fatalf("store config not mapped: %+v", sc)
	}
}
