// Package scrapertest provides an in-memory scraper.Session for tests.
package scrapertest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/harrow/internal/scraper"
)

// Response is the canned outcome of fetching one URL.
type Response struct {
	// FinalURL simulates a redirect; empty means the requested URL.
	FinalURL string
	HTML     string
	Err      error
}

// Session serves canned Responses and records every URL fetched. Unknown
// URLs fail with a 404 FetchError.
type Session struct {
	mu        sync.Mutex
	responses map[string]Response
	queued    map[string][]Response
	fetched   []string
	current   *scraper.Page
	closed    bool
}

// New returns a Session serving responses keyed by URL.
func New(responses map[string]Response) *Session {
	if responses == nil {
		responses = make(map[string]Response)
	}
	return &Session{responses: responses}
}

// Set adds or replaces the response for url.
func (s *Session) Set(url string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = r
}

// Queue makes the next fetches of url answer with rs, one each, before the
// response registered with New or Set takes over.
func (s *Session) Queue(url string, rs ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued == nil {
		s.queued = make(map[string][]Response)
	}
	s.queued[url] = append(s.queued[url], rs...)
}

// Fetched returns the URLs fetched so far, in order.
func (s *Session) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.fetched))
	copy(out, s.fetched)
	return out
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fetch implements scraper.Session.
func (s *Session) Fetch(ctx context.Context, url string) (*scraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, scraper.ErrClosed
	}
	s.fetched = append(s.fetched, url)

	r, ok := s.responses[url]
	if q := s.queued[url]; len(q) > 0 {
		r, ok = q[0], true
		s.queued[url] = q[1:]
	}
	if !ok {
		return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusNotFound}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	final := r.FinalURL
	if final == "" {
		final = url
	}
	page, err := scraper.NewPage(url, final, http.StatusOK, []byte(r.HTML))
	if err != nil {
		return nil, err
	}
	s.current = page
	return page, nil
}

// CurrentURL implements scraper.Session.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.URL
}

// WaitReady implements scraper.Session with a single evaluation.
func (s *Session) WaitReady(ctx context.Context, pred scraper.Predicate, _ time.Duration) (*scraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	page := s.current
	s.mu.Unlock()
	if page == nil {
		return nil, scraper.ErrContentNotReady
	}
	if pred == nil || pred(page.Doc) {
		return page, nil
	}
	return page, scraper.ErrContentNotReady
}

// Close implements scraper.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
