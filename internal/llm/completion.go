package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bookrec/internal/cache"
)

const (
	maxRequestSize  = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize  = 512 * 1024      // 512KB per message content
	maxResponseSize = 4 * 1024 * 1024

	cacheTier = "completion"
)

// ChatCompletion sends req to the configured default endpoint.
func (c *CompletionClient) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return c.ChatCompletionAt(ctx, c.cfg.Endpoint, req)
}

// ChatCompletionAt sends req to endpoint (a path relative to BaseURL).
// Cached responses are returned without consuming rate-limit budget.
func (c *CompletionClient) ChatCompletionAt(ctx context.Context, endpoint string, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}

	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"llmclient: message[%d] content too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize,
			)
		}
	}

	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	pReq := providerChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"llmclient: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize,
		)
	}

	cacheKey := cacheTier + ":" + cache.FingerprintBytes(endpoint, bodyBytes)
	if cached, ok := c.cached(ctx, cacheKey); ok {
		c.logger.Debug("llm response served from cache",
			zap.String("model", req.Model),
			zap.String("cache_key", cacheKey),
		)
		return cached, nil
	}

	c.logger.Debug("llm request starting",
		zap.String("model", req.Model),
		zap.String("endpoint", endpoint),
		zap.Int("message_count", len(req.Messages)),
	)

	out, err := c.doWithRetry(ctx, c.cfg.BaseURL+endpoint, bodyBytes)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.String("model", req.Model),
			zap.Int("status", StatusCode(err)),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	c.store(ctx, cacheKey, out)

	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// cached looks up a previous response. Cache errors count as a miss.
func (c *CompletionClient) cached(ctx context.Context, key string) (*ChatResponse, bool) {
	if c.cfg.DisableCache || c.cache == nil {
		return nil, false
	}

	raw, hit, err := c.cache.Get(ctx, key)
	if err != nil || !hit {
		return nil, false
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("discarding undecodable cached response",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (c *CompletionClient) store(ctx context.Context, key string, resp *ChatResponse) {
	if c.cfg.DisableCache || c.cache == nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("marshal response for cache", zap.Error(err))
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("cache write failed", zap.String("cache_key", key), zap.Error(err))
	}
}

func toResponse(p *providerChatResponse) *ChatResponse {
	out := &ChatResponse{
		ID:      p.ID,
		Created: p.Created,
		Model:   p.Model,
		Choices: make([]ChatChoice, 0, len(p.Choices)),
	}

	for _, ch := range p.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      ch.Message,
			FinishReason: ch.FinishReason,
		})
	}

	// Always include usage (even if zero)
	out.Usage = &Usage{}
	if p.Usage != nil {
		out.Usage.PromptTokens = p.Usage.PromptTokens
		out.Usage.CompletionTokens = p.Usage.CompletionTokens
		out.Usage.TotalTokens = p.Usage.TotalTokens
	}

	return out
}
