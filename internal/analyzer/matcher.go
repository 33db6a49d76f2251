// Package analyzer filters harvested reviews by keyword.
package analyzer

import (
	"strings"
	"unicode"

	"github.com/FranksOps/harrow/internal/review"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lower is plain Unicode lower-casing, not full case folding: "ß" stays "ß".
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// Matcher holds a keyword list lower-cased once for repeated matching.
type Matcher struct {
	keywords []string
	lowered  []string
}

// NewMatcher prepares keywords. Blank keywords are ignored and keywords that
// lower-case to the same string keep only their first spelling.
func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		f := lower(kw)
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		m.keywords = append(m.keywords, kw)
		m.lowered = append(m.lowered, f)
	}
	return m
}

// Keywords returns the effective keyword list in match order.
func (m *Matcher) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}

// Match returns the keywords occurring in text, case-insensitively, in
// keyword-list order.
func (m *Matcher) Match(text string) []string {
	if text == "" || len(m.lowered) == 0 {
		return nil
	}
	ft := lower(text)
	var matched []string
	for i, f := range m.lowered {
		if strings.Contains(ft, f) {
			matched = append(matched, m.keywords[i])
		}
	}
	return matched
}

// Filter keeps the reviews whose text contains at least one keyword and tags
// each with its matches. Input order is preserved.
func Filter(reviews []review.RawReview, keywords []string) []review.FilteredReview {
	return NewMatcher(keywords).Filter(reviews)
}

// Filter is the method form of the package-level Filter.
func (m *Matcher) Filter(reviews []review.RawReview) []review.FilteredReview {
	var out []review.FilteredReview
	for _, r := range reviews {
		if kws := m.Match(r.Text); len(kws) > 0 {
			out = append(out, review.FilteredReview{RawReview: r, MatchedKeywords: kws})
		}
	}
	return out
}

// Tag pairs every review with its matches, including reviews with none. It
// backs the all-reviews export.
func (m *Matcher) Tag(reviews []review.RawReview) []review.FilteredReview {
	out := make([]review.FilteredReview, len(reviews))
	for i, r := range reviews {
		out[i] = review.FilteredReview{RawReview: r, MatchedKeywords: m.Match(r.Text)}
	}
	return out
}

// Excerpt returns the first sentence of text that mentions keyword, or ""
// when none does. Reports use it to show why a review matched.
func Excerpt(text, keyword string) string {
	if keyword == "" {
		return ""
	}
	fk := lower(keyword)
	for _, s := range splitIntoSentences(text) {
		if strings.Contains(lower(s), fk) {
			return s
		}
	}
	return ""
}

// splitIntoSentences naively splits text into sentences using '.', '!' or '?' as
// delimiters while preserving the delimiter at the end of each sentence.
func splitIntoSentences(text string) []string {
	if len(text) == 0 {
		return nil
	}

	var sentences []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(text) && unicode.IsSpace(rune(text[end])) {
			end++
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
