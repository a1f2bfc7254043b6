package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bookrec/internal/metrics"
)

const maxRetryAfter = 5 * time.Minute

// doWithRetry sends body to url up to MaxRetries+1 times.
//   - Every attempt first takes a slot from the request window limiter.
//   - Transport failures, 429 and 5xx are retried; other statuses are not.
//   - Delays grow by BackoffFactor per attempt; a larger Retry-After wins.
//   - Cancellation of ctx stops immediately and is never retried.
func (c *CompletionClient) doWithRetry(ctx context.Context, url string, body []byte) (*ChatResponse, error) {
	maxAttempts := c.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *CompletionError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &CompletionError{Err: err, Attempts: attempt}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &CompletionError{Err: fmt.Errorf("waiting for rate limit: %w", err), Attempts: attempt}
		}

		start := time.Now()
		resp, retryAfter, err := c.attempt(ctx, url, body)
		duration := time.Since(start)

		if err == nil {
			metrics.CompletionAttemptsTotal.WithLabelValues("success").Inc()
			c.logger.Debug("llm upstream request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("duration", duration),
			)
			return resp, nil
		}

		err.Attempts = attempt + 1
		c.logger.Debug("llm upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", err.Status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		// Caller went away: never retry.
		if ctx.Err() != nil {
			return nil, &CompletionError{Err: ctx.Err(), Attempts: attempt + 1}
		}

		if !err.Retryable() {
			metrics.CompletionAttemptsTotal.WithLabelValues("permanent").Inc()
			return nil, err
		}

		if err.Transport {
			metrics.CompletionAttemptsTotal.WithLabelValues("transport").Inc()
		} else {
			metrics.CompletionAttemptsTotal.WithLabelValues("retryable").Inc()
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		backoff := computeBackoff(c.cfg.BaseBackoff, c.cfg.BackoffFactor, attempt, c.cfg.MaxBackoff)
		if retryAfter > backoff {
			c.logger.Info("honoring Retry-After header",
				zap.Duration("wait", retryAfter),
				zap.Int("status", err.Status),
			)
			backoff = retryAfter
		}
		c.logger.Debug("backing off before retry",
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
		)

		select {
		case <-ctx.Done():
			return nil, &CompletionError{Err: ctx.Err(), Attempts: attempt + 1}
		case <-c.clock.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = &CompletionError{Err: errors.New("unknown upstream error"), Attempts: maxAttempts}
	}

	c.logger.Warn("llm request exhausted all retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)

	return nil, lastErr
}

// attempt performs a single HTTP exchange under the per-attempt timeout and
// classifies the outcome. The returned duration is the upstream Retry-After.
func (c *CompletionClient) attempt(parentCtx context.Context, url string, body []byte) (*ChatResponse, time.Duration, *CompletionError) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &CompletionError{Err: fmt.Errorf("build HTTP request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, &CompletionError{Err: err, Transport: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		// Headers arrived but the body didn't.
		return nil, 0, &CompletionError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err), Transport: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ce := &CompletionError{
			Status: resp.StatusCode,
			Body:   truncate(string(raw), 1024),
		}

		var perr providerErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			ce.Message = perr.Error.Message
			ce.Type = perr.Error.Type
		}

		c.logger.Debug("llm provider error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", ce.Type),
			zap.String("error_message", ce.Message),
		)
		return nil, parseRetryAfter(resp, c.clock.Now()), ce
	}

	var pResp providerChatResponse
	if err := json.Unmarshal(raw, &pResp); err != nil {
		return nil, 0, &CompletionError{
			Status: resp.StatusCode,
			Body:   truncate(string(raw), 1024),
			Err:    fmt.Errorf("decode upstream response: %w", err),
		}
	}

	if len(pResp.Choices) == 0 {
		return nil, 0, &CompletionError{Status: resp.StatusCode, Err: ErrNoChoices}
	}

	return toResponse(&pResp), 0, nil
}

// parseRetryAfter extracts the retry delay from a Retry-After header.
// Returns 0 if header is missing or invalid.
//
// Retry-After can be:
// - Number of seconds: "120"
// - HTTP date: "Wed, 21 Oct 2015 07:28:00 GMT"
func parseRetryAfter(resp *http.Response, now time.Time) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	return 0
}

// computeBackoff returns base * factor^attempt, capped at maxBackoff.
//
// Example progression (base=1s, factor=2):
// Attempt 0: 1s
// Attempt 1: 2s
// Attempt 2: 4s
func computeBackoff(base time.Duration, factor float64, attempt int, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if factor < 1 {
		factor = 1
	}

	// 2^20 is far past any sane cap
	const maxExponent = 20
	if attempt > maxExponent {
		attempt = maxExponent
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
	if maxBackoff > 0 && (d > maxBackoff || d <= 0) {
		d = maxBackoff
	}
	return d
}
