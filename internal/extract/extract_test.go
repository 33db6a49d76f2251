package extract

import (
	"strings"
	"testing"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/PuerkitoBio/goquery"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

const reviewList = `<html><body><ul>
<li data-review-id="r1">
  <a href="/user_details?userid=a"><img src="a.png"></a>
  <a href="/user_details?userid=a">Alice B.</a>
  <div aria-label="4 star rating" role="img"></div>
  <span><span>1/15/2026</span></span>
  <p><span lang="en">Friendly staff and a great selection.</span></p>
</li>
<li data-review-id="r2">
  <a href="/user_details?userid=b">Bob C.</a>
  <div aria-label="rating unavailable"></div>
  <span>Mar 3, 2025</span>
  <p class="comment__09f24__x"><span>Prices are okay.</span></p>
</li>
<li data-review-id="r3">
  <a href="/user_details?userid=c">Carol</a>
  <div aria-label="5 star rating"></div>
</li>
<li data-review-id="r1">
  <a href="/user_details?userid=a">Alice B.</a>
  <span lang="en">Friendly staff and a great selection.</span>
</li>
</ul></body></html>`

func TestHTML_FieldsAndFallbacks(t *testing.T) {
	out := (&HTML{}).Extract(Input{Doc: doc(t, reviewList), BusinessName: "EZ Smokez Smoke Shop"})

	if out.Containers != 4 {
		t.Errorf("Containers = %d, want 4", out.Containers)
	}
	if len(out.Reviews) != 3 {
		t.Fatalf("expected 3 reviews (text-less dropped), got %d", len(out.Reviews))
	}

	first := out.Reviews[0]
	if first.Reviewer != "Alice B." || first.Published != "1/15/2026" || first.SourceID != "r1" {
		t.Errorf("first review = %+v", first)
	}
	if first.Rating == nil || *first.Rating != 4 {
		t.Errorf("first rating = %v", first.Rating)
	}
	if first.Text != "Friendly staff and a great selection." || first.BusinessName != "EZ Smokez Smoke Shop" {
		t.Errorf("first text/name = %q / %q", first.Text, first.BusinessName)
	}

	second := out.Reviews[1]
	if second.Rating != nil {
		t.Errorf("unparseable rating should be unrated, got %v", *second.Rating)
	}
	if second.Published != "Mar 3, 2025" || second.Text != "Prices are okay." {
		t.Errorf("second review = %+v", second)
	}
}

func TestHTML_SentinelsWhenFieldsMissing(t *testing.T) {
	d := doc(t, `<div data-review-id="x"><span lang="en">Just text</span><span>yesterday</span></div>`)
	out := (&HTML{}).Extract(Input{Doc: d})
	if len(out.Reviews) != 1 {
		t.Fatalf("expected 1 review, got %d", len(out.Reviews))
	}
	r := out.Reviews[0]
	if r.Reviewer != review.NotAvailable || r.Published != review.NotAvailable || r.Rating != nil {
		t.Errorf("expected sentinels, got %+v", r)
	}
}

func TestHTML_DateWithTrailingText(t *testing.T) {
	d := doc(t, `<div data-review-id="u1"><span>1/15/2026 Updated review</span><span lang="en">Better now.</span></div>
<div data-review-id="u2"><span>Feb 9, 2026 · Previous review</span><span lang="en">Was slow.</span></div>`)
	out := (&HTML{}).Extract(Input{Doc: d})
	if len(out.Reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(out.Reviews))
	}
	if got := out.Reviews[0].Published; got != "1/15/2026" {
		t.Errorf("first date = %q, want 1/15/2026", got)
	}
	if got := out.Reviews[1].Published; got != "Feb 9, 2026" {
		t.Errorf("second date = %q, want Feb 9, 2026", got)
	}
}

func TestHTML_ListItemFallback(t *testing.T) {
	d := doc(t, `<ul>
<li class="margin-b5__09f24__pTvws border"><p lang="en">From the list item.</p></li>
<li class="other"><span lang="en">ignored</span></li>
</ul>`)
	out := (&HTML{}).Extract(Input{Doc: d})
	if out.Containers != 1 || len(out.Reviews) != 1 || out.Reviews[0].Text != "From the list item." {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestHTML_InnermostLooseContainer(t *testing.T) {
	d := doc(t, `<div id="page"><section>
<div class="wrap">
  <div class="card"><div aria-label="3 star rating"></div><span lang="en">One</span></div>
  <div class="card"><div aria-label="2.5 star rating"></div><span lang="en">Two</span></div>
</div>
</section></div>`)
	out := (&HTML{}).Extract(Input{Doc: d})
	if out.Containers != 2 || len(out.Reviews) != 2 {
		t.Fatalf("expected the 2 innermost cards, got containers=%d reviews=%d", out.Containers, len(out.Reviews))
	}
	if r := out.Reviews[1].Rating; r == nil || *r != 2.5 {
		t.Errorf("second rating = %v", r)
	}
}

func TestHTML_NoContainers(t *testing.T) {
	out := (&HTML{}).Extract(Input{Doc: doc(t, `<p>Nothing to see</p>`)})
	if out.Containers != 0 || len(out.Reviews) != 0 {
		t.Errorf("expected empty output, got %+v", out)
	}
}

const ldPage = `<html><head>
<script type="application/ld+json">{"@type": "WebSite", "name": "Reviews"}</script>
<script type="application/ld+json">
{
  '@context': 'https://schema.org',
  '@graph': [
    {'@type': 'BreadcrumbList'},
    {
      '@type': 'LocalBusiness',
      name: 'EZ Smokez Smoke Shop',
      review: [
        {'@id': 'ld-1', author: {name: 'Dana'}, datePublished: '2025-11-02', reviewRating: {ratingValue: 5}, description: '  Super friendly!  '},
        {author: 'Eli', reviewRating: {ratingValue: '3.5'}, reviewBody: 'Decent.'},
        {author: [{name: 'Fay'}], reviewRating: {ratingValue: 11}, description: 'Odd rating'},
      ],
    },
  ],
}
</script></head><body></body></html>`

func TestJSONLD_Extract(t *testing.T) {
	out := (&JSONLD{}).Extract(Input{Doc: doc(t, ldPage), BusinessName: "EZ"})
	if len(out.Reviews) != 3 {
		t.Fatalf("expected 3 reviews, got %d", len(out.Reviews))
	}

	a, b, c := out.Reviews[0], out.Reviews[1], out.Reviews[2]
	if a.Reviewer != "Dana" || a.Published != "2025-11-02" || a.Text != "Super friendly!" || a.SourceID != "ld-1" {
		t.Errorf("first = %+v", a)
	}
	if a.Rating == nil || *a.Rating != 5 {
		t.Errorf("first rating = %v", a.Rating)
	}
	if b.Reviewer != "Eli" || b.Published != review.NotAvailable || b.Text != "Decent." {
		t.Errorf("second = %+v", b)
	}
	if b.Rating == nil || *b.Rating != 3.5 {
		t.Errorf("second rating = %v", b.Rating)
	}
	if c.Reviewer != "Fay" || c.Rating != nil {
		t.Errorf("third = %+v", c)
	}
}

func TestJSONLD_PageGate(t *testing.T) {
	j := &JSONLD{}
	if !j.Applies(0) || j.Applies(1) {
		t.Error("structured data should run on the first page only by default")
	}
	j.AllPages = true
	if !j.Applies(3) {
		t.Error("AllPages should enable later pages")
	}
}

func TestSet_StructuredWinsAndSkipsHeuristic(t *testing.T) {
	html := strings.Replace(ldPage, "<body></body>", "<body>"+reviewList+"</body>", 1)
	res := DefaultSet(false).Run(Input{Doc: doc(t, html), Page: 0})

	if res.Strategy != "jsonld" || len(res.Reviews) != 3 {
		t.Fatalf("expected jsonld with 3 reviews, got %q with %d", res.Strategy, len(res.Reviews))
	}
	for _, r := range res.Reviews {
		if r.Strategy != "jsonld" || r.Page != 0 {
			t.Errorf("review not tagged: %+v", r)
		}
	}
}

func TestSet_HeuristicOnLaterPagesWithDedup(t *testing.T) {
	html := strings.Replace(ldPage, "<body></body>", "<body>"+reviewList+"</body>", 1)
	res := DefaultSet(false).Run(Input{Doc: doc(t, html), Page: 2})

	if res.Strategy != "html" {
		t.Fatalf("Strategy = %q, want html", res.Strategy)
	}
	if len(res.Reviews) != 2 {
		t.Errorf("expected duplicate r1 collapsed to 2 reviews, got %d", len(res.Reviews))
	}
	if res.Reviews[0].Page != 2 {
		t.Errorf("Page = %d, want 2", res.Reviews[0].Page)
	}
}

func TestSet_DedupsSameContentUnderDifferentIDs(t *testing.T) {
	html := `<ul>
<li data-review-id="a"><a href="/user_details?userid=1">Dana</a><span>2/1/2026</span><span lang="en">Rude at the counter.</span></li>
<li data-review-id="b"><a href="/user_details?userid=1">Dana</a><span>2/1/2026</span><span lang="en">Rude at the counter.</span></li>
<li data-review-id="c"><a href="/user_details?userid=2">Eli</a><span>2/2/2026</span><span lang="en">Fine.</span></li>
</ul>`
	res := DefaultSet(false).Run(Input{Doc: doc(t, html), Page: 1})

	if len(res.Reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d: %+v", len(res.Reviews), res.Reviews)
	}
	if res.Reviews[0].SourceID != "a" || res.Reviews[1].SourceID != "c" {
		t.Errorf("kept %q and %q, want a and c", res.Reviews[0].SourceID, res.Reviews[1].SourceID)
	}
}

func TestSet_DedupsRepeatedID(t *testing.T) {
	html := `<ul>
<li data-review-id="a"><a href="/user_details?userid=1">Dana</a><span lang="en">First version.</span></li>
<li data-review-id="a"><a href="/user_details?userid=1">Dana</a><span lang="en">Edited version.</span></li>
</ul>`
	res := DefaultSet(false).Run(Input{Doc: doc(t, html), Page: 1})
	if len(res.Reviews) != 1 || res.Reviews[0].Text != "First version." {
		t.Errorf("expected the first of the repeated id, got %+v", res.Reviews)
	}
}

func TestSet_Exhausted(t *testing.T) {
	res := DefaultSet(true).Run(Input{Doc: doc(t, `<h1>No reviews yet</h1>`), Page: 1})
	if !res.Exhausted() {
		t.Errorf("expected exhausted, got %+v", res)
	}

	res = DefaultSet(false).Run(Input{Doc: doc(t, `<li data-review-id="1"></li>`), Page: 1})
	if res.Exhausted() {
		t.Error("containers without text are not exhaustion")
	}
}

func TestReady(t *testing.T) {
	if !Ready(doc(t, `<div aria-label="4 star rating"></div>`)) {
		t.Error("star rating should count as ready")
	}
	if Ready(doc(t, `<p>loading…</p>`)) {
		t.Error("plain page should not be ready")
	}
}

func TestNames(t *testing.T) {
	if got := strings.Join(DefaultSet(false).Names(), ","); got != "jsonld,html" {
		t.Errorf("Names = %s", got)
	}
}
