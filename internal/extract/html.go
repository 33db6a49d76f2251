package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/PuerkitoBio/goquery"
)

const starRating = `[aria-label*="star rating"]`

// containerRule finds candidate review elements on a page.
type containerRule struct {
	name string
	find func(doc *goquery.Document) *goquery.Selection
}

var looseContainer = `div:has(` + starRating + `):has(span[lang="en"])`

// containerChain is tried in order; the first rule matching anything wins.
var containerChain = []containerRule{
	{"data-review-id", func(d *goquery.Document) *goquery.Selection { return d.Find(`[data-review-id]`) }},
	{"list-item", func(d *goquery.Document) *goquery.Selection { return d.Find(`li[class*="margin-b5__"]`) }},
	{"rating-and-text", func(d *goquery.Document) *goquery.Selection {
		// Outer wrappers match too; keep only divs with no matching descendant.
		return d.Find(looseContainer).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find(looseContainer).Length() == 0
		})
	}},
}

// textChain lists the body-text selectors in priority order.
var textChain = []string{`span[lang="en"]`, `p[class*="comment"]`, `p[lang]`}

var (
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}`),
		regexp.MustCompile(`^(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.? \d{1,2}, \d{4}`),
	}
)

// HTML scrapes reviews out of the rendered markup. Every field falls back
// to a sentinel on its own; a container is only dropped when it has no text.
type HTML struct{}

func (h *HTML) Name() string { return "html" }

func (h *HTML) Applies(int) bool { return true }

func (h *HTML) Extract(in Input) Output {
	var containers *goquery.Selection
	for _, rule := range containerChain {
		if sel := rule.find(in.Doc); sel.Length() > 0 {
			containers = sel
			break
		}
	}
	if containers == nil {
		return Output{}
	}

	out := Output{Containers: containers.Length()}
	containers.Each(func(_ int, c *goquery.Selection) {
		text := reviewText(c)
		if text == "" {
			return
		}
		id, _ := c.Attr("data-review-id")
		out.Reviews = append(out.Reviews, review.RawReview{
			BusinessName: in.BusinessName,
			Reviewer:     reviewer(c),
			Published:    published(c),
			Rating:       rating(c),
			Text:         text,
			SourceID:     strings.TrimSpace(id),
		})
	})
	return out
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func reviewer(c *goquery.Selection) string {
	name := ""
	c.Find(`a[href*="/user_details"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		name = squash(a.Text())
		return name == ""
	})
	return orNA(name)
}

// rating reads the first number of the first star-rating label, e.g.
// "4.5 star rating". Values outside 0..5 are treated as unrated.
func rating(c *goquery.Selection) *float64 {
	el := c.Filter(starRating)
	if el.Length() == 0 {
		el = c.Find(starRating)
	}
	label, ok := el.First().Attr("aria-label")
	if !ok {
		return nil
	}
	m := numberPattern.FindString(label)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return validRating(f)
}

// published returns the date a span starts with; trailing text such as
// "Updated review" is cut off.
func published(c *goquery.Selection) string {
	date := ""
	c.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		txt := squash(s.Text())
		for _, p := range datePatterns {
			if d := p.FindString(txt); d != "" {
				date = d
				return false
			}
		}
		return true
	})
	return orNA(date)
}

func reviewText(c *goquery.Selection) string {
	for _, sel := range textChain {
		text := ""
		c.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = strings.TrimSpace(s.Text())
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}
