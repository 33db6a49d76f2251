package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
)

// JSONLD reads schema.org Review objects from application/ld+json scripts.
// Script bodies are parsed leniently since sites ship trailing commas and
// single quotes often enough.
type JSONLD struct {
	// AllPages runs the strategy beyond the first page.
	AllPages bool
}

func (j *JSONLD) Name() string { return "jsonld" }

func (j *JSONLD) Applies(page int) bool { return page == 0 || j.AllPages }

func (j *JSONLD) Extract(in Input) Output {
	var holder map[string]any
	in.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var v any
		if err := json5.Unmarshal([]byte(raw), &v); err != nil {
			return true
		}
		holder = findReviewHolder(v)
		return holder == nil
	})
	if holder == nil {
		return Output{}
	}

	entries := asList(holder["review"])
	out := Output{Containers: len(entries)}
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		out.Reviews = append(out.Reviews, review.RawReview{
			BusinessName: in.BusinessName,
			Reviewer:     orNA(authorName(m["author"])),
			Published:    orNA(str(m["datePublished"])),
			Rating:       ratingValue(m["reviewRating"]),
			Text:         strings.TrimSpace(firstNonEmpty(str(m["description"]), str(m["reviewBody"]))),
			SourceID:     firstNonEmpty(str(m["@id"]), str(m["identifier"])),
		})
	}
	return out
}

// findReviewHolder returns the first object, depth first, carrying a
// "review" key. Arrays and @graph containers are searched in order.
func findReviewHolder(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["review"]; ok {
			return t
		}
		if g, ok := t["@graph"]; ok {
			return findReviewHolder(g)
		}
	case []any:
		for _, item := range t {
			if m := findReviewHolder(item); m != nil {
				return m
			}
		}
	}
	return nil
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func authorName(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return strings.TrimSpace(str(t["name"]))
	case []any:
		if len(t) > 0 {
			return authorName(t[0])
		}
	}
	return ""
}

func ratingValue(v any) *float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	switch r := m["ratingValue"].(type) {
	case float64:
		return validRating(r)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil {
			return nil
		}
		return validRating(f)
	}
	return nil
}

func validRating(f float64) *float64 {
	if f < 0 || f > 5 {
		return nil
	}
	return review.Rating(f)
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orNA(s string) string {
	if s == "" {
		return review.NotAvailable
	}
	return s
}
