// Package serp finds business pages through a search front-end when the
// slug guesses of the resolver all miss.
package serp

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

// Result is one business-page link found by a search.
type Result struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// Similarity of Name to the queried name (Jaro-Winkler, 0..1).
	Similarity float64 `json:"similarity"`
}

// Provider searches for business pages by free-text name and locality. Results
// come back in the provider's own ranking order; limit <= 0 means no cap.
type Provider interface {
	Search(ctx context.Context, name, locality string, limit int) ([]Result, error)
}

// Similarity scores how alike two business names are, ignoring case.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	return matchr.JaroWinkler(a, b, false)
}
