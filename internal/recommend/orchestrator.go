// Package recommend produces personalized book recommendations: it prompts
// the completion service with a user's preference profile, parses and
// reconciles the answer against the catalog, and falls back to the
// top-rated books whenever generation fails.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bookrec/internal/cache"
	"bookrec/internal/catalog"
	"bookrec/internal/clock"
	"bookrec/internal/llm"
	"bookrec/internal/metrics"
	"bookrec/internal/preference"
)

const (
	DefaultCacheTTL    = 24 * time.Hour
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1500

	// DefaultGenerationTimeout bounds profile building plus the completion
	// call, including rate-limit waits and retries.
	DefaultGenerationTimeout = 45 * time.Second

	cacheTier = "recommendations"
)

// ProfileBuilder computes preference profiles. It must return an error
// wrapping catalog.ErrNotFound for unknown users.
type ProfileBuilder interface {
	Build(ctx context.Context, userID string) (*preference.Profile, error)
}

type Config struct {
	Model string
	// Temperature 0 means unset and becomes DefaultTemperature.
	Temperature float32
	MaxTokens   int
	CacheTTL    time.Duration

	// GenerationTimeout is how long generation may run before the fallback
	// is served instead. Keep it below any request deadline of the caller.
	GenerationTimeout time.Duration
	Breaker           BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Completion, Profiles and
// Books are required.
type Deps struct {
	Completion llm.Client
	Profiles   ProfileBuilder
	Books      catalog.BookStore
	// Cache holds results per user; default is an in-process memory store.
	Cache cache.Store
	// Parser reads the model output; default is DefaultParser().
	Parser ResponseParser
	Clock  clock.Clock
	Logger *zap.Logger
	// NewID generates ids for suggestions missing from the catalog.
	NewID func() string
}

// Orchestrator is the recommendation pipeline. It is safe for concurrent use;
// concurrent calls that share a cache key share one generation.
type Orchestrator struct {
	cfg        Config
	completion llm.Client
	profiles   ProfileBuilder
	books      catalog.BookStore
	cache      cache.Store
	parser     ResponseParser
	newID      func() string
	breaker    *gobreaker.CircuitBreaker[[]Candidate]
	inflight   singleflight.Group
	logger     *zap.Logger
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Completion == nil || deps.Profiles == nil || deps.Books == nil {
		return nil, errors.New("recommend: completion client, profile builder and book store are required")
	}
	if cfg.Model == "" {
		return nil, errors.New("recommend: model is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("recommend")

	if cfg.Temperature < 0 {
		logger.Warn("negative temperature replaced by default",
			zap.Float32("temperature", cfg.Temperature),
			zap.Float32("default", DefaultTemperature),
		)
	}
	cfg = cfg.withDefaults()

	store := deps.Cache
	if store == nil {
		store = cache.NewMemoryStore(deps.Clock)
	}
	parser := deps.Parser
	if parser == nil {
		parser = DefaultParser()
	}

	return &Orchestrator{
		cfg:        cfg,
		completion: deps.Completion,
		profiles:   deps.Profiles,
		books:      deps.Books,
		cache:      store,
		parser:     parser,
		newID:      deps.NewID,
		breaker:    newBreaker(cfg.Breaker, logger),
		logger:     logger,
	}, nil
}

// CacheKey is the result cache key for a user and optional genre.
func CacheKey(userID, genre string) string {
	key := cacheTier + ":" + userID
	if genre != "" {
		key += ":" + strings.ToLower(genre)
	}
	return key
}

// Recommend returns up to opts.Limit recommendations for userID. The only
// error for a healthy catalog is one wrapping catalog.ErrNotFound for an
// unknown user; completion failures are served from the fallback.
func (o *Orchestrator) Recommend(ctx context.Context, userID string, opts Options) ([]Candidate, error) {
	opts = opts.normalized()
	key := CacheKey(userID, opts.Genre)

	if !opts.ForceRefresh {
		if list, ok := o.cached(ctx, key); ok {
			metrics.RecommendationsTotal.WithLabelValues("cache").Inc()
			o.logger.Debug("recommendations served from cache",
				zap.String("user_id", userID),
				zap.String("cache_key", key),
			)
			return filterCandidates(list, opts.Genre, opts.Limit), nil
		}
	}

	// Work started on behalf of several callers runs to completion even if
	// the caller that started it goes away.
	workCtx := context.WithoutCancel(ctx)
	v, err, shared := o.inflight.Do(key, func() (any, error) {
		return o.produce(workCtx, userID, key, opts)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Debug("joined in-flight recommendation",
			zap.String("user_id", userID),
			zap.String("cache_key", key),
		)
	}

	return filterCandidates(v.([]Candidate), opts.Genre, opts.Limit), nil
}

// produce runs profile, generation (or fallback) and the cache write. The
// returned list is unfiltered.
func (o *Orchestrator) produce(ctx context.Context, userID, key string, opts Options) ([]Candidate, error) {
	start := time.Now()

	list, genErr := o.generateFor(ctx, userID, opts)
	if errors.Is(genErr, catalog.ErrNotFound) {
		return nil, fmt.Errorf("recommend: %w", genErr)
	}

	source := "generated"
	if genErr != nil {
		o.logger.Warn("generation failed, serving fallback",
			zap.String("user_id", userID),
			zap.Int("status", llm.StatusCode(genErr)),
			zap.Error(genErr),
		)

		var err error
		list, err = o.fallback(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("recommend: fallback: %w", err)
		}
		source = "fallback"
	}

	o.store(ctx, key, list)
	metrics.RecommendationsTotal.WithLabelValues(source).Inc()

	o.logger.Info("recommendations produced",
		zap.String("user_id", userID),
		zap.String("source", source),
		zap.String("genre", opts.Genre),
		zap.Int("count", len(list)),
		zap.Duration("duration", time.Since(start)),
	)
	return list, nil
}

// generateFor builds the profile and runs generation within the generation
// timeout. A missing user is returned as is; any other error, the deadline
// included, means the fallback should be used.
func (o *Orchestrator) generateFor(ctx context.Context, userID string, opts Options) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	profile, err := o.profiles.Build(ctx, userID)
	if err != nil {
		return nil, err
	}

	if o.breaker == nil {
		return o.generate(ctx, profile, opts)
	}
	return o.breaker.Execute(func() ([]Candidate, error) {
		return o.generate(ctx, profile, opts)
	})
}

func (o *Orchestrator) generate(ctx context.Context, profile *preference.Profile, opts Options) ([]Candidate, error) {
	req := &llm.ChatRequest{
		Model: o.cfg.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: BuildPrompt(profile, opts.Genre)},
		},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	resp, err := o.completion.ChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	text, err := resp.Text()
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	suggestions, err := o.parser.Parse(text)
	if err != nil {
		// Unparseable output yields no candidates rather than a failure.
		o.logger.Warn("could not parse completion output",
			zap.String("user_id", profile.UserID),
			zap.Int("length", len(text)),
			zap.Error(err),
		)
		suggestions = nil
	}

	books, err := o.books.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog for reconciliation: %w", err)
	}

	candidates := NewReconciler(books, o.newID).ReconcileAll(suggestions)
	o.logger.Debug("reconciled suggestions",
		zap.String("user_id", profile.UserID),
		zap.Int("suggestions", len(suggestions)),
		zap.Int("candidates", len(candidates)),
		zap.Bool("cached_completion", resp.Cached),
	)
	return candidates, nil
}

func (o *Orchestrator) fallback(ctx context.Context, opts Options) ([]Candidate, error) {
	books, err := o.books.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return topRated(books, opts.Genre, opts.Limit), nil
}

// cached returns the stored list for key. Read or decode errors count as a miss.
func (o *Orchestrator) cached(ctx context.Context, key string) ([]Candidate, bool) {
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}

	var list []Candidate
	if err := json.Unmarshal(raw, &list); err != nil {
		o.logger.Warn("discarding undecodable cached recommendations",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return nil, false
	}
	return list, true
}

func (o *Orchestrator) store(ctx context.Context, key string, list []Candidate) {
	raw, err := json.Marshal(list)
	if err != nil {
		o.logger.Warn("marshal recommendations for cache", zap.Error(err))
		return
	}
	if err := o.cache.Set(ctx, key, raw, o.cfg.CacheTTL); err != nil {
		o.logger.Warn("recommendation cache write failed",
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
}

// Invalidate drops the cached results for userID and genre.
func (o *Orchestrator) Invalidate(ctx context.Context, userID, genre string) error {
	return o.cache.Delete(ctx, CacheKey(userID, strings.TrimSpace(genre)))
}
