package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"bookrec/internal/catalog"
	"bookrec/internal/catalog/catalogtest"
	"bookrec/internal/clock"
	"bookrec/internal/llm"
	"bookrec/internal/preference"
)

const modelReply = `Here you go:
[
  {"title": "The Foundation", "author": "Isaac Asimov", "genre": "Science Fiction", "year": 1951, "reason": "Big ideas"},
  {"title": "Piranesi", "author": "Susanna Clarke", "genre": "Fantasy", "year": 2020, "reason": "Dreamlike"},
  {"title": "A Wizard of Earthsea", "author": "Ursula K. Le Guin", "genre": "Fantasy", "year": 1968, "reason": "More magic"},
  {"title": "Gone Girl", "author": "Gillian Flynn", "genre": "Thriller", "year": 2012, "reason": "Twisty"}
]`

func fixtureStore() *catalogtest.Store {
	return catalogtest.New().
		AddBook(catalog.Book{ID: "foundation", Title: "Foundation", Author: "Isaac Asimov", Genres: []string{"Science Fiction"}, PublishedYear: catalogtest.Year(1951), AverageRating: 4.2}).
		AddBook(catalog.Book{ID: "hobbit", Title: "The Hobbit", Author: "J.R.R. Tolkien", Genres: []string{"Fantasy", "Adventure"}, PublishedYear: catalogtest.Year(1937), AverageRating: 4.7}).
		AddBook(catalog.Book{ID: "earthsea", Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin", Genres: []string{"Fantasy"}, PublishedYear: catalogtest.Year(1968), AverageRating: 4.0}).
		AddBook(catalog.Book{ID: "gone-girl", Title: "Gone Girl", Author: "Gillian Flynn", Genres: []string{"Mystery", "Thriller"}, PublishedYear: catalogtest.Year(2012), AverageRating: 3.9}).
		AddBook(catalog.Book{ID: "emma", Title: "Emma", Author: "Jane Austen", Genres: []string{"Romance", "Classic"}, PublishedYear: catalogtest.Year(1815), AverageRating: 3.6}).
		AddUser(catalog.User{ID: "alice", Name: "Alice", Favorites: []string{"hobbit"}}).
		AddReview(catalog.Review{UserID: "alice", BookID: "earthsea", Rating: 5}).
		AddReview(catalog.Review{UserID: "alice", BookID: "emma", Rating: 2})
}

type fakeCompletion struct {
	mu    sync.Mutex
	calls int
	reqs  []*llm.ChatRequest

	reply func(n int) (*llm.ChatResponse, error)

	started chan struct{}
	release chan struct{}
}

func (f *fakeCompletion) ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply(n)
}

func (f *fakeCompletion) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCompletion) LastRequest() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func replyWith(text string) func(int) (*llm.ChatResponse, error) {
	return func(int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Choices: []llm.ChatChoice{{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: text}}},
		}, nil
	}
}

func failWith(err error) func(int) (*llm.ChatResponse, error) {
	return func(int) (*llm.ChatResponse, error) { return nil, err }
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

func newOrchestrator(t *testing.T, s *catalogtest.Store, completion llm.Client, tweak ...func(*Config, *Deps)) *Orchestrator {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := Config{Model: "gpt-4o-mini"}
	deps := Deps{
		Completion: completion,
		Profiles:   preference.NewBuilder(s.Users(), s.Reviews(), s.Books(), logger),
		Books:      s.Books(),
		Logger:     logger,
		NewID:      sequentialIDs(),
	}
	for _, fn := range tweak {
		fn(&cfg, &deps)
	}

	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func ids(list []Candidate) string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return strings.Join(out, ",")
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}, Deps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}

	s := fixtureStore()
	deps := Deps{
		Completion: &fakeCompletion{reply: replyWith("[]")},
		Profiles:   preference.NewBuilder(s.Users(), s.Reviews(), s.Books(), nil),
		Books:      s.Books(),
	}
	if _, err := New(Config{}, deps); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestRecommendGeneratesAndReconciles(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion)

	got, err := o.Recommend(context.Background(), "alice", Options{})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if ids(got) != "foundation,gen-1,earthsea,gone-girl" {
		t.Fatalf("unexpected candidates: %s", ids(got))
	}

	foundation := got[0]
	if foundation.Source != SourceCatalog || foundation.Title != "Foundation" || foundation.Reason != "Big ideas" {
		t.Fatalf("foundation not reconciled: %#v", foundation)
	}

	piranesi := got[1]
	if piranesi.Source != SourceRecommendation || piranesi.Title != "Piranesi" || piranesi.Description != "" || piranesi.CoverImage != "" {
		t.Fatalf("piranesi not synthesized: %#v", piranesi)
	}

	req := completion.LastRequest()
	if req.Model != "gpt-4o-mini" || req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected request settings: %#v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem || req.Messages[1].Role != llm.RoleUser {
		t.Fatalf("expected system + user messages, got %#v", req.Messages)
	}
	// Hobbit favorite (2.0) + Earthsea 5 stars (2.0) put Fantasy first.
	if !strings.Contains(req.Messages[1].Content, "Favorite genres: Fantasy, Adventure, Romance") {
		t.Fatalf("prompt not built from profile:\n%s", req.Messages[1].Content)
	}
}

func TestRecommendCacheIdempotence(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion)
	ctx := context.Background()

	first, err := o.Recommend(ctx, "alice", Options{Limit: 1})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("limit not applied: %d", len(first))
	}

	// The unfiltered list was cached, so a larger limit sees all of it.
	second, err := o.Recommend(ctx, "alice", Options{Limit: 10})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if completion.Calls() != 1 {
		t.Fatalf("expected one completion call, got %d", completion.Calls())
	}
	if ids(second) != "foundation,gen-1,earthsea,gone-girl" {
		t.Fatalf("cached list differs: %s", ids(second))
	}

	third, err := o.Recommend(ctx, "alice", Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if completion.Calls() != 2 {
		t.Fatalf("force refresh should call completion again, got %d", completion.Calls())
	}
	if third[1].ID != "gen-2" {
		t.Fatalf("expected regenerated synthetic id, got %s", third[1].ID)
	}

	if err := o.Invalidate(ctx, "alice", ""); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := o.Recommend(ctx, "alice", Options{}); err != nil {
		t.Fatalf("after invalidate: %v", err)
	}
	if completion.Calls() != 3 {
		t.Fatalf("invalidate should force regeneration, got %d calls", completion.Calls())
	}
}

func TestRecommendCacheExpires(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion, func(_ *Config, d *Deps) { d.Clock = clk })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := o.Recommend(ctx, "alice", Options{}); err != nil {
			t.Fatalf("Recommend: %v", err)
		}
	}
	clk.Advance(DefaultCacheTTL)
	if _, err := o.Recommend(ctx, "alice", Options{}); err != nil {
		t.Fatalf("Recommend at TTL: %v", err)
	}
	if completion.Calls() != 1 {
		t.Fatalf("entry should live for the full TTL, got %d calls", completion.Calls())
	}

	clk.Advance(time.Second)
	if _, err := o.Recommend(ctx, "alice", Options{}); err != nil {
		t.Fatalf("Recommend after TTL: %v", err)
	}
	if completion.Calls() != 2 {
		t.Fatalf("expired entry should regenerate, got %d calls", completion.Calls())
	}
}

func TestRecommendGenreFilter(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion)

	got, err := o.Recommend(context.Background(), "alice", Options{Genre: "fantasy"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if ids(got) != "gen-1,earthsea" {
		t.Fatalf("unexpected fantasy candidates: %s", ids(got))
	}
	if !strings.Contains(completion.LastRequest().Messages[1].Content, "Focus on books in the fantasy genre.") {
		t.Fatalf("genre focus missing from prompt")
	}
}

func TestRecommendFallbackOnCompletionError(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: failWith(&llm.CompletionError{Status: 503, Body: "overloaded"})}
	o := newOrchestrator(t, fixtureStore(), completion)
	ctx := context.Background()

	got, err := o.Recommend(ctx, "alice", Options{Limit: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if ids(got) != "hobbit,foundation,earthsea" {
		t.Fatalf("unexpected fallback: %s", ids(got))
	}
	for i, c := range got {
		if c.Source != SourceFallback {
			t.Fatalf("expected fallback source, got %s", c.Source)
		}
		if i > 0 && got[i-1].AverageRating < c.AverageRating {
			t.Fatalf("fallback not sorted by rating")
		}
	}

	fantasy, err := o.Recommend(ctx, "alice", Options{Genre: "Fantasy"})
	if err != nil {
		t.Fatalf("Recommend genre: %v", err)
	}
	if len(fantasy) != 2 {
		t.Fatalf("expected 2 fantasy fallbacks, got %s", ids(fantasy))
	}
	for _, c := range fantasy {
		if !c.HasGenre("Fantasy") {
			t.Fatalf("fallback %s lacks requested genre", c.ID)
		}
	}
}

func TestRecommendFallbackOnNoChoices(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: func(int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{}, nil
	}}
	o := newOrchestrator(t, fixtureStore(), completion)

	got, err := o.Recommend(context.Background(), "alice", Options{Limit: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) != 2 || got[0].Source != SourceFallback {
		t.Fatalf("expected fallback, got %#v", got)
	}
}

func TestRecommendFallbackCatalogErrorPropagates(t *testing.T) {
	t.Parallel()

	s := fixtureStore()
	boom := errors.New("catalog offline")
	s.FailFindAll(boom)

	completion := &fakeCompletion{reply: failWith(errors.New("upstream down"))}
	o := newOrchestrator(t, s, completion)

	_, err := o.Recommend(context.Background(), "alice", Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected catalog error, got %v", err)
	}
	if errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("catalog error must not look like a missing user")
	}
}

func TestRecommendUnknownUser(t *testing.T) {
	t.Parallel()

	s := fixtureStore()
	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, s, completion)

	_, err := o.Recommend(context.Background(), "ghost", Options{})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if completion.Calls() != 0 || s.FindAllCalls() != 0 {
		t.Fatalf("missing user must not reach generation or fallback")
	}
}

type brokenProfiles struct{}

func (brokenProfiles) Build(context.Context, string) (*preference.Profile, error) {
	return nil, errors.New("reviews table locked")
}

func TestRecommendProfileFailureFallsBack(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion, func(_ *Config, d *Deps) {
		d.Profiles = brokenProfiles{}
	})

	got, err := o.Recommend(context.Background(), "alice", Options{})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) == 0 || got[0].Source != SourceFallback {
		t.Fatalf("expected fallback, got %#v", got)
	}
	if completion.Calls() != 0 {
		t.Fatalf("completion should not be called without a profile")
	}
}

func TestRecommendUnparseableReplyIsEmpty(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith("I'm sorry, I can't recommend anything today.")}
	o := newOrchestrator(t, fixtureStore(), completion)
	ctx := context.Background()

	got, err := o.Recommend(ctx, "alice", Options{})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %s", ids(got))
	}

	if _, err := o.Recommend(ctx, "alice", Options{}); err != nil {
		t.Fatalf("second Recommend: %v", err)
	}
	if completion.Calls() != 1 {
		t.Fatalf("empty result should be cached, got %d calls", completion.Calls())
	}
}

func TestRecommendSharesInFlightGeneration(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{
		reply:   replyWith(modelReply),
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, fixtureStore(), completion)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]Candidate, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Recommend(context.Background(), "alice", Options{})
		}(i)
	}

	select {
	case <-completion.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("generation never started")
	}
	// Give the other callers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(completion.release)
	wg.Wait()

	if completion.Calls() != 1 {
		t.Fatalf("expected one shared generation, got %d", completion.Calls())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids(results[i]) != ids(results[0]) {
			t.Fatalf("caller %d saw %s, want %s", i, ids(results[i]), ids(results[0]))
		}
	}
}

func TestRecommendBreakerOpens(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: failWith(errors.New("upstream down"))}
	o := newOrchestrator(t, fixtureStore(), completion, func(c *Config, _ *Deps) {
		c.Breaker = BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		got, err := o.Recommend(ctx, "alice", Options{ForceRefresh: true})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if len(got) == 0 || got[0].Source != SourceFallback {
			t.Fatalf("call %d: expected fallback", i)
		}
	}
	if completion.Calls() != 2 {
		t.Fatalf("open breaker should short-circuit generation, got %d calls", completion.Calls())
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(context.Context, string) error { return errors.New("connection refused") }

func TestRecommendCacheErrorsAreMisses(t *testing.T) {
	t.Parallel()

	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion, func(_ *Config, d *Deps) {
		d.Cache = brokenCache{}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := o.Recommend(ctx, "alice", Options{})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if len(got) != 4 {
			t.Fatalf("call %d: expected 4 candidates, got %d", i, len(got))
		}
	}
	if completion.Calls() != 2 {
		t.Fatalf("broken cache should mean regeneration, got %d calls", completion.Calls())
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	if got := CacheKey("alice", ""); got != "recommendations:alice" {
		t.Fatalf("CacheKey = %q", got)
	}
	if got := CacheKey("alice", "Science Fiction"); got != "recommendations:alice:science fiction" {
		t.Fatalf("CacheKey with genre = %q", got)
	}
}

// stalledCompletion never answers; it returns once ctx is done.
type stalledCompletion struct {
	mu    sync.Mutex
	calls int
}

func (s *stalledCompletion) ChatCompletion(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRecommendGenerationTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	completion := &stalledCompletion{}
	o := newOrchestrator(t, fixtureStore(), completion, func(c *Config, _ *Deps) {
		c.GenerationTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	got, err := o.Recommend(context.Background(), "alice", Options{Limit: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("generation deadline not applied, took %v", elapsed)
	}
	if ids(got) != "hobbit,foundation" || got[0].Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", ids(got))
	}
}

func TestNewLogsNegativeTemperature(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	completion := &fakeCompletion{reply: replyWith(modelReply)}
	o := newOrchestrator(t, fixtureStore(), completion, func(c *Config, d *Deps) {
		c.Temperature = -1
		d.Logger = zap.New(core)
	})

	if logs.FilterMessage("negative temperature replaced by default").Len() != 1 {
		t.Fatalf("expected override warning, got %v", logs.All())
	}
	if _, err := o.Recommend(context.Background(), "alice", Options{}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if got := completion.LastRequest().Temperature; got != DefaultTemperature {
		t.Fatalf("expected default temperature, got %v", got)
	}
}
