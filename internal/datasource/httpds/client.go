// Package httpds is the retrying HTTP client used to page through the
// HubSpot CRM API.
//
// Requests are retried on transport errors, 429 and 5xx responses with an
// exponential backoff. A Retry-After header on a retryable response
// overrides the computed backoff, capped at MaxBackoff. Context
// cancellation aborts both requests and backoff waits.
package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrRetriesExhausted wraps the last failure once every attempt failed.
var ErrRetriesExhausted = errors.New("httpds: retries exhausted")

// Config configures the client.
//
// Zero values are given defaults:
//   - Timeout:        30s
//   - InitialBackoff: 1s
//   - MaxBackoff:     30s
type Config struct {
	// Timeout bounds one request including reading the body.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Later retries
	// double it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	InsecureSkipVerify bool

	// BaseHeaders are sent with every request. Per-request headers win.
	BaseHeaders http.Header

	// Retryable decides whether a response status is retried. nil retries
	// 429 and 5xx.
	Retryable func(status int) bool

	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

// Client wraps an http.Client with retry and backoff.
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	baseHeaders    http.Header
	retryable      func(int) bool

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryable
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		baseHeaders:    cfg.BaseHeaders.Clone(),
		retryable:      cfg.Retryable,
		sleep:          sleepContext,
	}
}

// DefaultRetryable retries 429 and every 5xx.
func DefaultRetryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// Get issues a GET to url. The caller must close the response body. A
// non-retryable error status is returned as a response, not an error.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	if url == "" {
		return nil, errors.New("httpds: url must not be empty")
	}

	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("httpds: build request: %w", err)
		}
		for k, vs := range c.baseHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		for k, vs := range headers {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		wait := backoffDuration(c.initialBackoff, attempt, c.maxBackoff)
		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case c.retryable(resp.StatusCode):
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = min(d, c.maxBackoff)
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d from GET %s", resp.StatusCode, url)
		default:
			return resp, nil
		}

		if attempt+1 >= attempts {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// backoffDuration returns initial * 2^attempt clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		return min(initial, max)
	}
	if attempt > 30 {
		return max
	}
	d := initial << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
