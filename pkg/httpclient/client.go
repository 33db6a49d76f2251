package httpclient

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps how much of a response body is buffered.
const DefaultMaxBodyBytes = 8 << 20

// RetryPolicy decides whether a buffered response should be retried after a backoff.
type RetryPolicy func(resp *http.Response, body []byte) bool

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Provide a custom Transport, e.g. for proxies or uTLS fingerprinting
	Transport http.RoundTripper
	// MaxRetries is the number of extra attempts for responses matched by Retry.
	MaxRetries int
	// BaseBackoff is the first backoff step; it doubles every attempt (default 500ms).
	BaseBackoff time.Duration
	// Retry classifies throttled responses. Nil retries 429 and 503 only.
	Retry RetryPolicy
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, status int, wait time.Duration)
	// MaxBodyBytes caps buffered bodies (default DefaultMaxBodyBytes).
	MaxBodyBytes int64
}

// Client wraps a standard http.Client to provide configurable timeouts,
// redirect policies, cookie management and throttle-aware retries.
type Client struct {
	*http.Client
	cfg Config
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("httpclient: stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		// Don't follow any redirects if max < 0
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	return &Client{Client: c, cfg: cfg}, nil
}

// DefaultRetryPolicy retries 429 Too Many Requests and 503 Service Unavailable.
func DefaultRetryPolicy(resp *http.Response, _ []byte) bool {
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
}

// Do executes an HTTP request and buffers the response body. Responses matched
// by the retry policy are retried after a backoff that honors Retry-After; once
// retries are exhausted the last response is returned as-is for the caller to
// classify. The returned response body has already been read into body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if ctx == nil {
		return nil, nil, errors.New("httpclient: context cannot be nil")
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.Client.Do(req.Clone(ctx))
		if err != nil {
			return nil, nil, fmt.Errorf("httpclient: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return resp, body, fmt.Errorf("httpclient: read body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))

		if attempt >= c.cfg.MaxRetries || !c.cfg.Retry(resp, body) {
			return resp, body, nil
		}

		wait := RetryAfter(resp)
		if wait == 0 {
			wait = Backoff(c.cfg.BaseBackoff, attempt)
		}
		if c.cfg.OnRetry != nil {
			c.cfg.OnRetry(attempt+1, resp.StatusCode, wait)
		}
		if !SleepCtx(ctx, wait) {
			return nil, nil, fmt.Errorf("httpclient: %w", ctx.Err())
		}
	}
}

// SleepCtx waits for d or returns false early if ctx is done.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryAfter parses the Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func RetryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Backoff returns base*2^attempt plus up to 50% random jitter.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return d
	}
	f := float64(b[0]) / 255.0
	return d + time.Duration(0.5*f*float64(d))
}
