package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bookrec/internal/config"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "bookrec.db"))
	t.Setenv("LOG_LEVEL", "error")

	out, err := runCmd(t, "seed", "../../configs/seed.example.yaml")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "seeded 4 books, 2 users, 3 reviews") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRecommendRequiresAPIKey(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "bookrec.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LLM_API_KEY", "")

	_, err := runCmd(t, "recommend", "alice")
	if err == nil || !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, _, err := loadConfig("../../configs/bookrec.example.yaml")
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Recommendations.BreakerFailureThreshold != 5 {
		t.Fatalf("unexpected breaker threshold %d", cfg.Recommendations.BreakerFailureThreshold)
	}
}

func TestAppKeepsCachesSeparate(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "bookrec.db"))
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("CACHE_BACKEND", "memory")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)

	ctx := context.Background()
	if err := a.resultCache.Set(ctx, "rec:alice:", []byte("[]"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := a.completionCache.Get(ctx, "rec:alice:"); ok {
		t.Fatalf("recommendation entry visible through the completion cache")
	}
	if _, ok, _ := a.resultCache.Get(ctx, "rec:alice:"); !ok {
		t.Fatalf("recommendation entry missing from its own cache")
	}
}
