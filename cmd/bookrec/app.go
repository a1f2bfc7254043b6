package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bookrec/internal/cache"
	"bookrec/internal/config"
	"bookrec/internal/llm"
	"bookrec/internal/preference"
	"bookrec/internal/recommend"
	"bookrec/internal/store"
	"bookrec/pkg/logging/logging"
)

// app holds everything a command needs to produce recommendations.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db    *store.DB
	redis *redis.Client

	// Completion replies and recommendation lists never share a store.
	completionCache cache.Store
	resultCache     cache.Store

	completion  *llm.CompletionClient
	recommender *recommend.Orchestrator
}

func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Cache.Backend == cache.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})

		// Fail fast if Redis is misconfigured
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Cache.RedisAddr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Cache.RedisAddr))
	}
	a.completionCache = cache.New(cfg.StoreConfig(), a.redis, nil, logger)
	a.resultCache = cache.New(cfg.StoreConfig(), a.redis, nil, logger)

	if cfg.LLM.APIKey == "" {
		a.Close()
		return nil, errors.New("LLM_API_KEY is required")
	}
	completionCfg := cfg.CompletionConfig()
	completionCfg.Cache = a.completionCache
	a.completion, err = llm.NewClient(completionCfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	books := store.NewBookRepository(db)
	profiles := preference.NewBuilder(
		store.NewUserRepository(db),
		store.NewReviewRepository(db),
		books,
		logger,
	)

	a.recommender, err = recommend.New(cfg.RecommendConfig(), recommend.Deps{
		Completion: a.completion,
		Profiles:   profiles,
		Books:      books,
		Cache:      a.resultCache,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("recommendation pipeline ready",
		zap.String("db_path", cfg.Database.Path),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("model", cfg.LLM.Model),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.Bool("completion_cache", cfg.LLM.CacheEnabled),
		zap.Int("rate_limit_max_requests", cfg.LLM.RateLimitMaxRequests),
	)
	return a, nil
}

// ready reports whether the backing stores answer.
func (a *app) ready(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		return a.redis.Ping(ctx).Err()
	}
	return nil
}

func (a *app) Close() {
	if a.completion != nil {
		_ = a.completion.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
