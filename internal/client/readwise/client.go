package readwise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"readersync/internal/retry"
)

const (
	DefaultBaseURL = "https://readwise.io"
	listPath       = "/api/v3/list/"

	// UpdatedAfterLayout is the second-precision UTC form the list endpoint accepts.
	UpdatedAfterLayout = "2006-01-02T15:04:05Z"
)

type Options struct {
	BaseURL     string
	Token       string
	AuthScheme  string
	Timeout     time.Duration
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

type Client struct {
	host       string
	token      string
	scheme     string
	timeout    time.Duration
	attempts   int
	backoffMin time.Duration
	backoffMax time.Duration
	httpClient *http.Client

	Logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewClient(httpClient *http.Client, opts Options) *Client {
	host := strings.TrimRight(opts.BaseURL, "/")
	if host == "" {
		host = DefaultBaseURL
	}
	scheme := strings.TrimSpace(opts.AuthScheme)
	if scheme == "" {
		scheme = "Token"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		host:       host,
		token:      opts.Token,
		scheme:     scheme,
		timeout:    opts.Timeout,
		attempts:   opts.MaxAttempts,
		backoffMin: opts.BackoffMin,
		backoffMax: opts.BackoffMax,
		httpClient: httpClient,
		sleep:      retry.Sleep,
		jitter:     retry.HalfJitter,
	}
}

// FetchPage requests one page of the document list. An empty cursor asks for
// the first page; a nil updatedAfter asks for every document.
//
// Rate-limit responses carrying a Retry-After hint are waited out without
// consuming an attempt. Other transient failures are retried with backoff up
// to the configured attempt count.
func (c *Client) FetchPage(ctx context.Context, cursor string, updatedAfter *time.Time) (Page, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("pageCursor", cursor)
	}
	if updatedAfter != nil {
		query.Set("updatedAfter", updatedAfter.UTC().Format(UpdatedAfterLayout))
	}
	fullURL := c.host + listPath
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	logger := c.logger()
	attempt := 0
	delay := c.backoffMin
	for {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		body, err := c.doRequest(ctx, fullURL)
		if err == nil {
			return parsePage(body)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}

		var apiErr *APIError
		isAPI := errors.As(err, &apiErr)
		if isAPI && apiErr.Fatal() {
			return Page{}, err
		}
		if isAPI && apiErr.RateLimited() && apiErr.HasRetryAfter {
			// A zero or past hint still waits backoffMin so a bad server cannot spin us.
			wait := max(apiErr.RetryAfter, c.backoffMin)
			logger.Warn("readwise rate limited",
				zap.String("cursor", cursor),
				zap.Duration("retry_after", apiErr.RetryAfter),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return Page{}, err
			}
			continue
		}

		attempt++
		if attempt >= c.attempts {
			return Page{}, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
		wait := delay + c.jitter(delay)
		logger.Warn("readwise request failed, retrying",
			zap.String("cursor", cursor),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return Page{}, err
		}
		delay = retry.Next(delay, c.backoffMax)
	}
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.scheme+" "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter, apiErr.HasRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return nil, apiErr
	}
	return body, nil
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
