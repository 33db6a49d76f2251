package resolver

import (
	"regexp"
	"strings"
)

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// GenerateSlug maps a business name and locality onto the path fragment the
// review site uses for business pages, e.g. "EZ Smokez Smoke Shop" and
// "Las Vegas" give "ez-smokez-smoke-shop-las-vegas". The result contains only
// [a-z0-9-] and may be empty.
func GenerateSlug(name, locality string) string {
	s := strings.ToLower(strings.Join(strings.Fields(name+" "+locality), " "))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
