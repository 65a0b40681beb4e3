package readwise

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrRetriesExhausted is returned once every attempt allowed for a page
	// failed with a transient error.
	ErrRetriesExhausted = errors.New("readwise: retries exhausted")
	// ErrMalformedResponse is returned when a 2xx body is not a list envelope.
	ErrMalformedResponse = errors.New("readwise: malformed response")
)

type APIError struct {
	Status int
	Body   string

	// RetryAfter is set only when the response carried a parseable hint.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, truncate(e.Body, 512))
}

// RateLimited reports a 429.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// Transient reports statuses worth another attempt: 408, 429 and 5xx.
func (e *APIError) Transient() bool {
	return e.RateLimited() || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// Fatal reports statuses that must not be retried (401, 403, 404, 400, ...).
func (e *APIError) Fatal() bool {
	return !e.Transient()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
