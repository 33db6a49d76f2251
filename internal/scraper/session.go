// Package scraper fetches review-site pages. A Session hides whether pages
// come from plain HTTP or from a rendering browser.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Mode names a Session implementation.
type Mode string

const (
	ModeHTTP    Mode = "http"
	ModeBrowser Mode = "browser"
)

var (
	// ErrTimeout marks a fetch that did not complete in time. Callers treat
	// it as transient.
	ErrTimeout = errors.New("scraper: fetch timed out")
	// ErrThrottled marks a response that stayed throttled or challenged
	// after every retry.
	ErrThrottled = errors.New("scraper: throttled by remote host")
	// ErrContentNotReady is returned by WaitReady when the predicate never
	// held before the timeout.
	ErrContentNotReady = errors.New("scraper: content not ready")
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("scraper: disallowed by robots.txt")
	// ErrClosed is returned by a Session used after Close.
	ErrClosed = errors.New("scraper: session closed")
)

// FetchError describes a failed fetch: a transport failure, an error status
// or exhausted throttle retries.
type FetchError struct {
	URL        string
	StatusCode int
	// RetryAfter is the wait the host asked for on a throttled answer.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err != nil {
		return fmt.Sprintf("scraper: fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("scraper: fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("scraper: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is a loaded, queryable document.
type Page struct {
	// RequestURL is what was asked for; URL is where the session ended up
	// after redirects.
	RequestURL string
	URL        string
	StatusCode int
	HTML       []byte
	Doc        *goquery.Document
	FetchedAt  time.Time
	Duration   time.Duration
}

// NewPage parses html into a Page.
func NewPage(requestURL, finalURL string, status int, html []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse %s: %w", finalURL, err)
	}
	return &Page{
		RequestURL: requestURL,
		URL:        finalURL,
		StatusCode: status,
		HTML:       html,
		Doc:        doc,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Predicate reports whether a document holds the content a caller waits for.
type Predicate func(doc *goquery.Document) bool

// AnySelector is a Predicate that holds once any of the selectors matches.
func AnySelector(selectors ...string) Predicate {
	return func(doc *goquery.Document) bool {
		if doc == nil {
			return false
		}
		for _, s := range selectors {
			if doc.Find(s).Length() > 0 {
				return true
			}
		}
		return false
	}
}

// Session is one fetch-capable client. Fetches on a Session are sequential.
type Session interface {
	// Fetch loads url. Timeouts wrap ErrTimeout; other failures are
	// *FetchError or the context error.
	Fetch(ctx context.Context, url string) (*Page, error)
	// CurrentURL is the final URL of the most recent successful Fetch.
	CurrentURL() string
	// WaitReady waits up to timeout for pred to hold on the current
	// document. On timeout it returns the last observed page together with
	// ErrContentNotReady.
	WaitReady(ctx context.Context, pred Predicate, timeout time.Duration) (*Page, error)
	Close() error
}
