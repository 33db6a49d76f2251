package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/harrow/internal/bypass"
	"github.com/FranksOps/harrow/internal/fingerprint"
	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/pkg/httpclient"
	"github.com/FranksOps/harrow/pkg/proxy"
	"github.com/FranksOps/harrow/pkg/ratelimit"
	"github.com/FranksOps/harrow/pkg/useragent"
)

// HTTPConfig configures an HTTPSession.
type HTTPConfig struct {
	Timeout time.Duration
	// MaxRedirects defaults to 10. Negative disables redirect following.
	MaxRedirects int
	// MaxRetries bounds backoff retries of throttled responses (default 3).
	MaxRetries  int
	BaseBackoff time.Duration
	// ProxyPool is consulted once; the session keeps its proxy for life.
	ProxyPool   *proxy.Pool
	UAPool      *useragent.Pool
	Fingerprint fingerprint.Profile
	Limiter     *ratelimit.Limiter
	// RespectRobots refuses URLs disallowed for the session's User-Agent.
	RespectRobots bool
	// InsecureSkipVerify is for self-signed test servers only.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// HTTPSession fetches static HTML over a fingerprinted transport with a
// cookie jar, a sticky User-Agent and a sticky proxy. Script-rendered content
// is invisible to it.
type HTTPSession struct {
	cfg       HTTPConfig
	client    *httpclient.Client
	transport *http.Transport
	robots    *RobotsTxtAuditor
	userAgent string
	proxyURL  *url.URL
	logger    *slog.Logger

	mu      sync.Mutex
	current *Page
	closed  bool
}

// NewHTTPSession builds a session. Nothing is fetched until Fetch.
func NewHTTPSession(cfg HTTPConfig) (*HTTPSession, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &HTTPSession{
		cfg:       cfg,
		userAgent: cfg.UAPool.ForFamily(cfg.Fingerprint.UserAgentFamily()).GetRandom(),
		logger:    cfg.Logger,
	}
	if cfg.ProxyPool != nil {
		s.proxyURL = cfg.ProxyPool.Next()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              s.proxy,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}
	s.transport = transport

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: true,
		Transport:    transport,
		MaxRetries:   cfg.MaxRetries,
		BaseBackoff:  cfg.BaseBackoff,
		Retry:        bypass.RetryPolicy(bypass.DefaultDetectors()),
		OnRetry: func(attempt, status int, wait time.Duration) {
			metrics.ThrottleRetries.WithLabelValues(fmt.Sprint(status)).Inc()
			s.logger.Warn("throttled, backing off", "attempt", attempt, "status", status, "wait", wait)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}
	s.client = client

	if cfg.RespectRobots {
		s.robots = NewRobotsTxtAuditor(client, s.logger)
	}
	proxyAddr := "direct"
	if s.proxyURL != nil {
		proxyAddr = s.proxyURL.Redacted()
	}
	s.logger.Debug("http session ready", "fingerprint", cfg.Fingerprint, "user_agent", s.userAgent, "proxy", proxyAddr, "delay", cfg.Limiter.Delay())
	return s, nil
}

func (s *HTTPSession) proxy(req *http.Request) (*url.URL, error) {
	if s.proxyURL != nil {
		return s.proxyURL, nil
	}
	return http.ProxyFromEnvironment(req)
}

func (s *HTTPSession) reportProxy(ok bool) {
	if s.proxyURL == nil {
		return
	}
	if err := s.cfg.ProxyPool.Report(s.proxyURL, ok); err != nil {
		s.logger.Debug("proxy report failed", "err", err)
	}
	if !ok {
		metrics.ProxyFailures.WithLabelValues(s.proxyURL.Redacted()).Inc()
	}
}

// UserAgent is the User-Agent this session sends on every request.
func (s *HTTPSession) UserAgent() string { return s.userAgent }

// Fetch implements Session.
func (s *HTTPSession) Fetch(ctx context.Context, target string) (*Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if s.robots != nil {
		allowed, err := s.robots.IsAllowed(ctx, target, s.userAgent)
		if err != nil {
			return nil, &FetchError{URL: target, Err: err}
		}
		if !allowed {
			return nil, &FetchError{URL: target, Err: ErrDisallowed}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, body, err := s.client.Do(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.reportProxy(false)
		if isTimeout(err) {
			metrics.RecordFetch(string(ModeHTTP), metrics.OutcomeTimeout, elapsed)
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, target, err)
		}
		metrics.RecordFetch(string(ModeHTTP), metrics.OutcomeError, elapsed)
		return nil, &FetchError{URL: target, Err: err}
	}
	v := bypass.Classify(&bypass.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, bypass.DefaultDetectors())
	s.reportProxy(!v.Throttled)
	if v.Throttled {
		metrics.RecordFetch(string(ModeHTTP), metrics.OutcomeThrottled, elapsed)
		s.logger.Warn("still throttled after retries", "url", target, "status", resp.StatusCode, "source", v.Source)
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, RetryAfter: httpclient.RetryAfter(resp), Err: ErrThrottled}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.RecordFetch(string(ModeHTTP), metrics.OutcomeError, elapsed)
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	page, err := NewPage(target, final, resp.StatusCode, body)
	if err != nil {
		return nil, err
	}
	page.Duration = elapsed
	metrics.RecordFetch(string(ModeHTTP), metrics.OutcomeOK, elapsed)
	s.logger.Debug("fetched", "url", target, "final", final, "status", resp.StatusCode, "bytes", len(body), "duration", elapsed)

	s.mu.Lock()
	s.current = page
	s.mu.Unlock()
	return page, nil
}

// CurrentURL implements Session.
func (s *HTTPSession) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.URL
}

// WaitReady implements Session. Static HTML never changes after the fetch,
// so the predicate is evaluated exactly once and timeout is not slept.
func (s *HTTPSession) WaitReady(ctx context.Context, pred Predicate, _ time.Duration) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	page := s.current
	s.mu.Unlock()
	if page == nil {
		return nil, ErrContentNotReady
	}
	if pred == nil || pred(page.Doc) {
		return page, nil
	}
	return page, ErrContentNotReady
}

// Close implements Session.
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
