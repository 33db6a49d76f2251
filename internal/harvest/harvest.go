// Package harvest walks the paginated review listing of a resolved target.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/harrow/internal/extract"
	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/scraper"
)

// StopReason says why pagination ended.
type StopReason string

const (
	StopMaxPages    StopReason = "max_pages"
	StopExhausted   StopReason = "exhausted"
	StopFetchFailed StopReason = "fetch_failed"
	StopCanceled    StopReason = "canceled"
)

// Config configures a Controller.
type Config struct {
	// PageSize is the offset step between pages (default 10).
	PageSize int
	// OffsetParam is the query parameter carrying the offset (default start).
	OffsetParam string
	// ReadyTimeout bounds the wait for reviews to render (default 10s).
	ReadyTimeout time.Duration
	// Strategies defaults to extract.DefaultSet(false).
	Strategies *extract.Set
	Logger     *slog.Logger
}

// Result is the outcome of ExtractAll.
type Result struct {
	Reviews      []review.RawReview
	PagesFetched int
	// PagesSkipped counts pages lost to timeouts.
	PagesSkipped int
	Stop         StopReason
	// Err is the fetch error behind StopFetchFailed.
	Err error
}

// Controller drives a Session across result pages.
type Controller struct {
	session scraper.Session
	cfg     Config
	logger  *slog.Logger
}

// NewController creates a Controller fetching through session.
func NewController(session scraper.Session, cfg Config) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.OffsetParam == "" {
		cfg.OffsetParam = "start"
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.Strategies == nil {
		cfg.Strategies = extract.DefaultSet(false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{session: session, cfg: cfg, logger: cfg.Logger}
}

// PageURL returns the listing URL of the zero-based page. Page 0 is the
// canonical URL untouched.
func (c *Controller) PageURL(canonical string, page int) (string, error) {
	if page == 0 {
		return canonical, nil
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("harvest: bad target url %q: %w", canonical, err)
	}
	q := u.Query()
	q.Set(c.cfg.OffsetParam, strconv.Itoa(page*c.cfg.PageSize))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// ExtractAll collects reviews from up to maxPages pages of target. It never
// discards what it has: a hard fetch failure ends the walk with
// StopFetchFailed and a nil error, while cancellation returns the reviews so
// far together with ctx.Err().
func (c *Controller) ExtractAll(ctx context.Context, target review.Target, maxPages int) (Result, error) {
	logger := c.logger.With("business", target.DisplayName)
	logger.Debug("harvest starting", "url", target.CanonicalURL, "max_pages", maxPages, "strategies", c.cfg.Strategies.Names())
	var res Result

	for page := 0; ; page++ {
		if page >= maxPages {
			res.Stop = StopMaxPages
			break
		}
		if err := ctx.Err(); err != nil {
			res.Stop = StopCanceled
			return res, err
		}

		pageURL, err := c.PageURL(target.CanonicalURL, page)
		if err != nil {
			return res, err
		}

		if _, err := c.session.Fetch(ctx, pageURL); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Stop = StopCanceled
				return res, ctxErr
			}
			if errors.Is(err, scraper.ErrTimeout) {
				logger.Warn("page timed out, skipping", "page", page, "url", pageURL, "err", err)
				res.PagesSkipped++
				continue
			}
			logger.Error("page fetch failed, stopping", "page", page, "url", pageURL, "err", err)
			res.Stop = StopFetchFailed
			res.Err = err
			break
		}
		res.PagesFetched++

		ready, err := c.session.WaitReady(ctx, extract.Ready, c.cfg.ReadyTimeout)
		switch {
		case errors.Is(err, scraper.ErrContentNotReady):
			logger.Warn("timed out waiting for reviews to render", "page", page, "timeout", c.cfg.ReadyTimeout)
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Stop = StopCanceled
				return res, ctxErr
			}
			logger.Warn("readiness wait failed", "page", page, "err", err)
		}
		if ready == nil {
			res.Stop = StopExhausted
			break
		}

		out := c.cfg.Strategies.Run(extract.Input{Doc: ready.Doc, BusinessName: target.DisplayName, Page: page})
		if out.Exhausted() {
			logger.Info("no review containers found, stopping", "page", page)
			res.Stop = StopExhausted
			break
		}

		metrics.RecordReviews(out.Strategy, len(out.Reviews))
		res.Reviews = append(res.Reviews, out.Reviews...)
		logger.Info("page harvested", "page", page, "strategy", out.Strategy, "reviews", len(out.Reviews), "containers", out.Containers, "total", len(res.Reviews))
	}

	logger.Info("harvest finished", "stop", res.Stop, "pages", res.PagesFetched, "skipped", res.PagesSkipped, "reviews", len(res.Reviews))
	return res, nil
}
