package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/harrow/internal/bypass"
	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/pkg/httpclient"
	"github.com/FranksOps/harrow/pkg/ratelimit"
	"github.com/FranksOps/harrow/pkg/useragent"
	"github.com/chromedp/chromedp"
)

// BrowserConfig configures a BrowserSession.
type BrowserConfig struct {
	// Headless false opens a visible window.
	Headless bool
	// ExecPath overrides Chrome discovery.
	ExecPath  string
	UserAgent string
	// ProxyURL is passed to Chrome as --proxy-server.
	ProxyURL string
	// Timeout bounds a single navigation (default 30s).
	Timeout time.Duration
	// PollInterval is the WaitReady re-check period (default 250ms).
	PollInterval time.Duration
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

// BrowserSession drives one Chrome tab through chromedp so script-rendered
// review listings are visible to the extractors.
type BrowserSession struct {
	cfg    BrowserConfig
	logger *slog.Logger

	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc

	mu      sync.Mutex
	current *Page
	closed  bool
}

// NewBrowserSession starts Chrome and opens a tab. The browser lives until
// Close.
func NewBrowserSession(ctx context.Context, cfg BrowserConfig) (*BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = useragent.NewPool(nil).ForFamily(useragent.Chrome).GetRandom()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		cfg.Logger.Debug(fmt.Sprintf(format, args...))
	}))

	b := &BrowserSession{
		cfg:         cfg,
		logger:      cfg.Logger,
		ctx:         tabCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
	}

	// The first Run allocates the browser and ties its lifetime to the
	// context it is given, so it must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("scraper: start browser: %w", err)
	}
	cfg.Logger.Info("browser session started", "headless", cfg.Headless)
	return b, nil
}

// bound derives a context from the tab that is canceled when either ctx is
// done or d elapses.
func (b *BrowserSession) bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(b.ctx, d)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// Fetch implements Session.
func (b *BrowserSession) Fetch(ctx context.Context, target string) (*Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := b.cfg.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tctx, cancel := b.bound(ctx, b.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := chromedp.RunResponse(tctx, chromedp.Navigate(target))
	if err == nil {
		var page *Page
		page, err = b.snapshot(tctx, target)
		if err == nil {
			header := http.Header{}
			if resp != nil {
				page.StatusCode = int(resp.Status)
				for k, v := range resp.Headers {
					header.Set(k, fmt.Sprint(v))
				}
			}
			page.Duration = time.Since(start)
			return b.accept(page, header)
		}
	}

	elapsed := time.Since(start)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		metrics.RecordFetch(string(ModeBrowser), metrics.OutcomeTimeout, elapsed)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, target)
	default:
		metrics.RecordFetch(string(ModeBrowser), metrics.OutcomeError, elapsed)
		return nil, &FetchError{URL: target, Err: err}
	}
}

// accept classifies a rendered page. Rate limits and bot challenges come
// back as ErrThrottled carrying the host's Retry-After.
func (b *BrowserSession) accept(page *Page, header http.Header) (*Page, error) {
	v := bypass.Classify(&bypass.Response{StatusCode: page.StatusCode, Header: header, Body: page.HTML}, bypass.DefaultDetectors())
	if v.Throttled {
		metrics.RecordFetch(string(ModeBrowser), metrics.OutcomeThrottled, page.Duration)
		b.logger.Warn("throttled", "url", page.RequestURL, "status", page.StatusCode, "source", v.Source)
		return nil, &FetchError{
			URL:        page.RequestURL,
			StatusCode: page.StatusCode,
			RetryAfter: httpclient.RetryAfter(&http.Response{Header: header}),
			Err:        ErrThrottled,
		}
	}
	if page.StatusCode >= http.StatusBadRequest {
		metrics.RecordFetch(string(ModeBrowser), metrics.OutcomeError, page.Duration)
		return nil, &FetchError{URL: page.RequestURL, StatusCode: page.StatusCode}
	}
	metrics.RecordFetch(string(ModeBrowser), metrics.OutcomeOK, page.Duration)
	b.logger.Debug("rendered", "url", page.RequestURL, "final", page.URL, "status", page.StatusCode, "duration", page.Duration)

	b.mu.Lock()
	b.current = page
	b.mu.Unlock()
	return page, nil
}

// snapshot serialises the live DOM and parses it.
func (b *BrowserSession) snapshot(ctx context.Context, requestURL string) (*Page, error) {
	var (
		loc  string
		html string
	)
	if err := chromedp.Run(ctx,
		chromedp.Location(&loc),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, err
	}
	return NewPage(requestURL, loc, 0, []byte(html))
}

// CurrentURL implements Session.
func (b *BrowserSession) CurrentURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ""
	}
	return b.current.URL
}

// WaitReady implements Session by re-reading the rendered DOM every
// PollInterval until pred holds or timeout passes.
func (b *BrowserSession) WaitReady(ctx context.Context, pred Predicate, timeout time.Duration) (*Page, error) {
	b.mu.Lock()
	last := b.current
	b.mu.Unlock()
	if last == nil {
		return nil, ErrContentNotReady
	}

	deadline := time.Now().Add(timeout)
	for {
		if pred == nil || pred(last.Doc) {
			b.mu.Lock()
			b.current = last
			b.mu.Unlock()
			return last, nil
		}
		if !time.Now().Before(deadline) {
			return last, ErrContentNotReady
		}

		t := time.NewTimer(b.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		case <-t.C:
		}

		sctx, cancel := b.bound(ctx, b.cfg.PollInterval*4)
		page, err := b.snapshot(sctx, last.RequestURL)
		cancel()
		if err != nil {
			b.logger.Debug("dom snapshot failed", "url", last.RequestURL, "err", err)
			continue
		}
		page.StatusCode = last.StatusCode
		page.Duration = last.Duration
		last = page
	}
}

// Close shuts the tab and the browser process.
func (b *BrowserSession) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancelTab()
	b.cancelAlloc()
	return nil
}
