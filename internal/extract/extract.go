// Package extract turns a fetched review page into raw review records. Each
// Strategy is self-contained; a Set runs them in priority order and stops at
// the first one that yields reviews.
package extract

import (
	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/PuerkitoBio/goquery"
)

// ReadySelectors mark a page whose review listing has rendered.
var ReadySelectors = []string{`[aria-label*="star rating"]`, `[data-review-id]`, `span[lang="en"]`}

// Ready is the readiness predicate for review pages.
var Ready = scraper.AnySelector(ReadySelectors...)

// Input is one page handed to the strategies.
type Input struct {
	Doc          *goquery.Document
	BusinessName string
	Page         int
}

// Output is what one strategy found on a page.
type Output struct {
	Reviews []review.RawReview
	// Containers counts the candidate review elements seen, including ones
	// dropped for lack of text.
	Containers int
}

// Strategy is one way of reading reviews off a page.
type Strategy interface {
	Name() string
	// Applies reports whether the strategy runs on the zero-based page.
	Applies(page int) bool
	Extract(in Input) Output
}

// Result is the outcome of running a Set on one page.
type Result struct {
	Reviews []review.RawReview
	// Strategy names the strategy that produced Reviews; empty when none did.
	Strategy   string
	Containers int
}

// Exhausted reports that nothing review-shaped was found on the page, which
// ends pagination.
func (r Result) Exhausted() bool {
	return len(r.Reviews) == 0 && r.Containers == 0
}

// Set is an ordered list of strategies.
type Set struct {
	strategies []Strategy
}

// NewSet runs strategies in the given order.
func NewSet(strategies ...Strategy) *Set {
	return &Set{strategies: strategies}
}

// DefaultSet is structured data first, then the heuristic DOM walk.
func DefaultSet(structuredAllPages bool) *Set {
	return NewSet(&JSONLD{AllPages: structuredAllPages}, &HTML{})
}

// Names lists the strategies in evaluation order.
func (s *Set) Names() []string {
	out := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		out[i] = st.Name()
	}
	return out
}

// Run evaluates the strategies against one page. The first strategy with at
// least one review wins and later ones are skipped. Reviews are tagged with
// their strategy and page. Within the winning pass a review repeating an
// earlier (reviewer, date, text) triple or an earlier source id is dropped.
func (s *Set) Run(in Input) Result {
	var res Result
	if in.Doc == nil {
		return res
	}
	for _, st := range s.strategies {
		if !st.Applies(in.Page) {
			continue
		}
		out := st.Extract(in)
		res.Containers += out.Containers
		if len(out.Reviews) == 0 {
			continue
		}
		res.Strategy = st.Name()
		res.Reviews = dedup(out.Reviews, st.Name(), in.Page)
		return res
	}
	return res
}

func dedup(in []review.RawReview, strategy string, page int) []review.RawReview {
	seenContent := make(map[string]struct{}, len(in))
	seenID := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, r := range in {
		ck := r.ContentKey()
		if _, dup := seenContent[ck]; dup {
			continue
		}
		if r.SourceID != "" {
			if _, dup := seenID[r.SourceID]; dup {
				continue
			}
			seenID[r.SourceID] = struct{}{}
		}
		seenContent[ck] = struct{}{}
		r.Strategy = strategy
		r.Page = page
		out = append(out, r)
	}
	return out
}
