package serp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FranksOps/harrow/internal/fingerprint"
	"github.com/FranksOps/harrow/internal/scraper"
)

const searchPage = `<html><body>
<a href="/ad/elsewhere">Sponsored</a>
<a href="/biz/ez-smokez-smoke-shop-las-vegas-4?osq=EZ">EZ Smokez Smoke Shop</a>
<a href="/biz/ez-smokez-smoke-shop-las-vegas-4#reviews">Read reviews</a>
<a href="/biz/other-vape-las-vegas"><img src="x.png"></a>
</body></html>`

func newSearch(t *testing.T, handler http.HandlerFunc) (*SiteSearch, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	sess, err := scraper.NewHTTPSession(scraper.HTTPConfig{Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return &SiteSearch{Session: sess, BaseURL: ts.URL}, ts
}

func TestSiteSearch_Results(t *testing.T) {
	s, ts := newSearch(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("find_desc") != "EZ Smokez Smoke Shop" || r.URL.Query().Get("find_loc") != "Las Vegas" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(searchPage))
	})

	results, err := s.Search(context.Background(), "EZ Smokez Smoke Shop", "Las Vegas", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].URL != ts.URL+"/biz/ez-smokez-smoke-shop-las-vegas-4" {
		t.Errorf("first url = %q", results[0].URL)
	}
	if results[0].Name != "EZ Smokez Smoke Shop" || results[0].Similarity != 1 {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Name != "" {
		t.Errorf("image link should have empty name, got %q", results[1].Name)
	}
}

func TestSiteSearch_Limit(t *testing.T) {
	s, _ := newSearch(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchPage))
	})

	results, err := s.Search(context.Background(), "EZ", "Las Vegas", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestSiteSearch_NoResults(t *testing.T) {
	s, _ := newSearch(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>No results</p>"))
	})

	results, err := s.Search(context.Background(), "Nowhere", "Mars", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("EZ Smokez", "ez smokez"); got != 1 {
		t.Errorf("identical names scored %v", got)
	}
	if got := Similarity("EZ Smokez", ""); got != 0 {
		t.Errorf("empty name scored %v", got)
	}
	if a, b := Similarity("EZ Smokez Smoke Shop", "EZ Smokes Smoke Shop"), Similarity("EZ Smokez Smoke Shop", "Joe's Pizza"); a <= b {
		t.Errorf("near match %v should beat unrelated %v", a, b)
	}
}
