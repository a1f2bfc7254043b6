package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoChoices is returned when the provider answers 2xx without any choices.
var ErrNoChoices = errors.New("provider returned no choices")

// CompletionError is returned by the completion client once a request has
// failed for good: either the error was not retryable or retries ran out.
// Status and Body carry the upstream response when there was one.
type CompletionError struct {
	Status  int
	Body    string
	Message string
	Type    string
	// Transport is set when the request was sent but no response arrived.
	Transport bool
	Attempts  int
	Err       error
}

func (e *CompletionError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.Status, e.Message, e.Type)
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("llmclient: upstream %d: %v", e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("llmclient: upstream %d: %s", e.Status, truncate(e.Body, 200))
	case e.Err != nil:
		return fmt.Sprintf("llmclient: %v", e.Err)
	default:
		return "llmclient: unknown upstream error"
	}
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed: transport failures,
// 429 and 5xx.
func (e *CompletionError) Retryable() bool {
	if e.Transport {
		return true
	}
	return shouldRetryStatus(e.Status)
}

// shouldRetryStatus returns true if the HTTP status code indicates
// the request should be retried.
func shouldRetryStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable *CompletionError.
func IsRetryable(err error) bool {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
