// Package review holds the records passed between the resolver, the harvester
// and the exporters.
package review

import (
	"errors"
	"strconv"
	"strings"
)

// NotAvailable is the sentinel written for text fields that could not be extracted.
const NotAvailable = "N/A"

var (
	// ErrNotFound means the business has no page on the review source.
	ErrNotFound = errors.New("review: business not found")
	// ErrInvalidQuery is returned before any fetch when the query cannot be resolved.
	ErrInvalidQuery = errors.New("review: invalid business query")
)

// BusinessQuery identifies the business to look up.
type BusinessQuery struct {
	Name     string
	Locality string
}

// Validate rejects queries that can never resolve.
func (q BusinessQuery) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return errors.Join(ErrInvalidQuery, errors.New("business name is required"))
	}
	if strings.TrimSpace(q.Locality) == "" {
		return errors.Join(ErrInvalidQuery, errors.New("locality is required"))
	}
	return nil
}

func (q BusinessQuery) String() string {
	return q.Name + " (" + q.Locality + ")"
}

// ResolveSource records how a Target was found.
type ResolveSource string

const (
	SourceSlug   ResolveSource = "slug"
	SourceSearch ResolveSource = "search"
	SourceCache  ResolveSource = "cache"
)

// Target is the canonical page of one business on the review source.
type Target struct {
	DisplayName  string        `json:"display_name"`
	CanonicalURL string        `json:"canonical_url"`
	Source       ResolveSource `json:"source"`
	// Similarity between the queried name and DisplayName (Jaro-Winkler, 0..1).
	Similarity float64 `json:"similarity"`
}

// RawReview is a single review as extracted from a page.
type RawReview struct {
	BusinessName string   `json:"business_name"`
	Reviewer     string   `json:"reviewer"`
	Published    string   `json:"date"`
	Rating       *float64 `json:"rating"` // nil = unrated
	Text         string   `json:"text"`
	SourceID     string   `json:"source_id,omitempty"`
	Strategy     string   `json:"strategy"`
	Page         int      `json:"page"`
}

// ContentKey is the (reviewer, date, text) identity of a review. Rating and
// source id do not take part.
func (r RawReview) ContentKey() string {
	return r.Reviewer + "\x00" + r.Published + "\x00" + r.Text
}

// RatingString renders the rating for tabular output; unrated is empty.
func (r RawReview) RatingString() string {
	if r.Rating == nil {
		return ""
	}
	return strconv.FormatFloat(*r.Rating, 'f', -1, 64)
}

// FilteredReview is a RawReview that matched at least one keyword.
type FilteredReview struct {
	RawReview
	MatchedKeywords []string `json:"matched_keywords"`
}

// Rating returns a pointer to v, for building RawReview values.
func Rating(v float64) *float64 {
	return &v
}
