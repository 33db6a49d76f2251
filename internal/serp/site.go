package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/PuerkitoBio/goquery"
)

// SiteSearch queries the review site's own search page through a Session.
type SiteSearch struct {
	Session scraper.Session
	// BaseURL is the site root, e.g. https://www.yelp.com.
	BaseURL string
	// SearchPath defaults to /search.
	SearchPath string
	// BizPrefix is the path prefix of business pages (default /biz/).
	BizPrefix string
	// ReadyTimeout bounds the wait for result links (default 10s).
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// SearchURL builds the search page address for a query.
func (s *SiteSearch) SearchURL(name, locality string) string {
	path := s.SearchPath
	if path == "" {
		path = "/search"
	}
	q := url.Values{}
	q.Set("find_desc", name)
	q.Set("find_loc", locality)
	return strings.TrimRight(s.BaseURL, "/") + path + "?" + q.Encode()
}

// Search implements Provider. Links are returned in document order with
// query strings and fragments removed; repeated links are reported once.
func (s *SiteSearch) Search(ctx context.Context, name, locality string, limit int) ([]Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := s.BizPrefix
	if prefix == "" {
		prefix = "/biz/"
	}
	timeout := s.ReadyTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	searchURL := s.SearchURL(name, locality)
	if _, err := s.Session.Fetch(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("serp: search %q: %w", name, err)
	}

	selector := fmt.Sprintf(`a[href*=%q]`, prefix)
	page, err := s.Session.WaitReady(ctx, scraper.AnySelector(selector), timeout)
	if err != nil && !errors.Is(err, scraper.ErrContentNotReady) {
		return nil, fmt.Errorf("serp: search %q: %w", name, err)
	}
	if page == nil {
		return nil, nil
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("serp: bad page url %q: %w", page.URL, err)
	}

	var results []Result
	seen := make(map[string]struct{})
	page.Doc.Find(selector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, err := base.Parse(href)
		if err != nil || !strings.Contains(u.Path, prefix) {
			return true
		}
		u.RawQuery, u.Fragment = "", ""
		link := u.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}

		text := strings.Join(strings.Fields(a.Text()), " ")
		results = append(results, Result{Name: text, URL: link, Similarity: Similarity(name, text)})
		return limit <= 0 || len(results) < limit
	})

	logger.Debug("site search", "query", name, "locality", locality, "results", len(results))
	return results, nil
}
