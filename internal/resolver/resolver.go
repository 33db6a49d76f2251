// Package resolver turns a business query into the canonical review page of
// that business.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/FranksOps/harrow/internal/serp"
	"github.com/PuerkitoBio/goquery"
)

// DefaultBaseURL is the review site queried when Config.BaseURL is empty.
const DefaultBaseURL = "https://www.yelp.com"

// Cache stores resolved targets by slug.
type Cache interface {
	Get(ctx context.Context, slug string) (review.Target, bool, error)
	Set(ctx context.Context, slug string, t review.Target, ttl time.Duration) error
}

// Config configures a Resolver.
type Config struct {
	BaseURL string
	// BizPrefix is the path prefix every business page carries (default /biz/).
	BizPrefix string
	// MaxSuffix is the highest numeric suffix tried (default 10).
	MaxSuffix int
	// TitleTimeout bounds the wait for a title on rendered pages (default 5s).
	TitleTimeout time.Duration
	// Search is the fallback when every slug candidate misses. Optional.
	Search serp.Provider
	// Cache short-circuits repeated resolutions. Optional.
	Cache    Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Resolver finds the Target for a BusinessQuery.
type Resolver struct {
	session scraper.Session
	cfg     Config
	logger  *slog.Logger
}

// New creates a Resolver fetching through session.
func New(session scraper.Session, cfg Config) *Resolver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BizPrefix == "" {
		cfg.BizPrefix = "/biz/"
	}
	if cfg.MaxSuffix < 1 {
		cfg.MaxSuffix = 10
	}
	if cfg.TitleTimeout == 0 {
		cfg.TitleTimeout = 5 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{session: session, cfg: cfg, logger: cfg.Logger}
}

// Candidates lists the slug URLs tried for slug, in order: the bare slug,
// then -2 through -MaxSuffix.
func (r *Resolver) Candidates(slug string) []string {
	if slug == "" {
		return nil
	}
	out := make([]string, 0, r.cfg.MaxSuffix)
	for n := 1; n <= r.cfg.MaxSuffix; n++ {
		suffix := ""
		if n > 1 {
			suffix = fmt.Sprintf("-%d", n)
		}
		out = append(out, r.cfg.BaseURL+r.cfg.BizPrefix+slug+suffix)
	}
	return out
}

// Resolve returns the target for q. A business without a page yields an
// error wrapping review.ErrNotFound; an unusable query wraps
// review.ErrInvalidQuery and is rejected before any fetch.
func (r *Resolver) Resolve(ctx context.Context, q review.BusinessQuery) (review.Target, error) {
	if err := q.Validate(); err != nil {
		return review.Target{}, err
	}

	slug := GenerateSlug(q.Name, q.Locality)
	logger := r.logger.With("business", q.Name, "locality", q.Locality, "slug", slug)

	if slug != "" && r.cfg.Cache != nil {
		t, ok, err := r.cfg.Cache.Get(ctx, slug)
		switch {
		case err != nil:
			logger.Warn("target cache read failed", "err", err)
		case ok:
			t.Source = review.SourceCache
			logger.Info("target resolved from cache", "url", t.CanonicalURL)
			metrics.RecordResolution(string(review.SourceCache), nil)
			return t, nil
		}
	}

	t, err := r.resolve(ctx, q, slug, logger)
	if err != nil {
		if ctx.Err() == nil {
			metrics.RecordResolution("", err)
		}
		return review.Target{}, err
	}
	metrics.RecordResolution(string(t.Source), nil)
	logger.Info("target resolved", "url", t.CanonicalURL, "name", t.DisplayName, "source", t.Source, "similarity", t.Similarity)

	if slug != "" && r.cfg.Cache != nil {
		if err := r.cfg.Cache.Set(ctx, slug, t, r.cfg.CacheTTL); err != nil {
			logger.Warn("target cache write failed", "err", err)
		}
	}
	return t, nil
}

func (r *Resolver) resolve(ctx context.Context, q review.BusinessQuery, slug string, logger *slog.Logger) (review.Target, error) {
	for _, candidate := range r.Candidates(slug) {
		if err := ctx.Err(); err != nil {
			return review.Target{}, err
		}
		t, ok, err := r.try(ctx, candidate, logger)
		if err != nil {
			return review.Target{}, err
		}
		if ok {
			t.Similarity = serp.Similarity(q.Name, t.DisplayName)
			return t, nil
		}
		if err := ctx.Err(); err != nil {
			return review.Target{}, err
		}
	}

	if r.cfg.Search != nil {
		results, err := r.cfg.Search.Search(ctx, q.Name, q.Locality, 0)
		if err != nil {
			if ctx.Err() != nil {
				return review.Target{}, ctx.Err()
			}
			logger.Warn("site search failed", "err", err)
		}
		for _, res := range results {
			u, err := url.Parse(res.URL)
			if err != nil || !strings.Contains(u.Path, r.cfg.BizPrefix) {
				continue
			}
			name := res.Name
			if name == "" {
				name = q.Name
			}
			return review.Target{
				DisplayName:  name,
				CanonicalURL: canonical(u),
				Source:       review.SourceSearch,
				Similarity:   serp.Similarity(q.Name, name),
			}, nil
		}
	}

	return review.Target{}, fmt.Errorf("resolver: %s: %w", q, review.ErrNotFound)
}

// try fetches one candidate and accepts it when it is still a business page
// after redirects and carries a title. A candidate that stays throttled ends
// the walk with an error: skipping ahead could settle on another business
// sharing the slug.
func (r *Resolver) try(ctx context.Context, candidate string, logger *slog.Logger) (review.Target, bool, error) {
	if _, err := r.session.Fetch(ctx, candidate); err != nil {
		if errors.Is(err, scraper.ErrThrottled) {
			return review.Target{}, false, fmt.Errorf("resolver: %s: %w", candidate, err)
		}
		logger.Debug("candidate rejected", "url", candidate, "err", err)
		return review.Target{}, false, nil
	}

	final, err := url.Parse(r.session.CurrentURL())
	if err != nil || !strings.Contains(final.Path, r.cfg.BizPrefix) {
		logger.Debug("candidate left business pages", "url", candidate, "final", r.session.CurrentURL())
		return review.Target{}, false, nil
	}

	page, err := r.session.WaitReady(ctx, scraper.AnySelector("h1", `meta[property="og:title"]`), r.cfg.TitleTimeout)
	if err != nil && !errors.Is(err, scraper.ErrContentNotReady) {
		return review.Target{}, false, nil
	}
	if page == nil {
		return review.Target{}, false, nil
	}
	title := Title(page.Doc)
	if title == "" {
		logger.Debug("candidate has no title", "url", candidate)
		return review.Target{}, false, nil
	}

	return review.Target{
		DisplayName:  title,
		CanonicalURL: canonical(final),
		Source:       review.SourceSlug,
	}, true, nil
}

// Title extracts the business name from a business page: the first non-empty
// h1, else the og:title meta tag.
func Title(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var title string
	doc.Find("h1").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = strings.Join(strings.Fields(s.Text()), " ")
		return title == ""
	})
	if title != "" {
		return title
	}
	og, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	return strings.TrimSpace(og)
}

func canonical(u *url.URL) string {
	c := *u
	c.RawQuery, c.Fragment = "", ""
	return c.String()
}
