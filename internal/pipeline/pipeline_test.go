package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/harrow/internal/config"
	"github.com/FranksOps/harrow/internal/harvest"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/FranksOps/harrow/internal/storage"
	"github.com/FranksOps/harrow/internal/storage/csvbackend"
	"github.com/FranksOps/harrow/internal/storage/jsonbackend"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const ezSlug = "ez-smokez-smoke-shop-las-vegas"

// listing renders n review containers. special maps a review index to its text.
func listing(title string, page, n int, special map[int]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><h1>%s</h1><ul>", title, title)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("Review %d on page %d, would come back.", i, page)
		if s, ok := special[i]; ok {
			text = s
		}
		fmt.Fprintf(&b, `<li data-review-id="p%d-%d"><a href="/user_details?userid=u%d">User %d</a><div aria-label="%d star rating"></div><span>2/%d/2026</span><span lang="en">%s</span></li>`,
			page, i, i, i, 1+i%5, 1+i, text)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

// ezSmokez serves the business page: 10 reviews on the first page, 3 on the
// second, then an empty listing.
func ezSmokez(t *testing.T, hits *sync.Map) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/biz/"+ezSlug, func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		if hits != nil {
			n, _ := hits.LoadOrStore(start, new(int))
			*(n.(*int))++
		}
		switch start {
		case "":
			_, _ = w.Write([]byte(listing("EZ Smokez Smoke Shop", 0, 10, map[int]string{4: "Super friendly staff and a big selection."})))
		case "10":
			_, _ = w.Write([]byte(listing("EZ Smokez Smoke Shop", 1, 3, map[int]string{1: "FRIENDLY owner, fair prices."})))
		default:
			_, _ = w.Write([]byte("<html><body><h1>EZ Smokez Smoke Shop</h1><p>No more reviews.</p></body></html>"))
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "EZ Smokez Smoke Shop"
	cfg.Locality = "Las Vegas"
	cfg.Mode = "http"
	cfg.Fingerprint = "go"
	cfg.Delay = 0
	cfg.Jitter = 0
	cfg.BaseURL = baseURL
	cfg.Keywords = []string{"friendly", "rude"}
	cfg.OutputDir = t.TempDir()
	cfg.ReadyTimeout = time.Second
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newPipeline(t *testing.T, cfg config.Config, opts Options) *Pipeline {
	t.Helper()
	if opts.NewSession == nil {
		f, err := NewSessionFactory(cfg, quiet)
		if err != nil {
			t.Fatalf("NewSessionFactory: %v", err)
		}
		opts.NewSession = f
	}
	if opts.Logger == nil {
		opts.Logger = quiet
	}
	p, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csvbackend.Read(f)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRun_EndToEnd(t *testing.T) {
	hits := &sync.Map{}
	ts := ezSmokez(t, hits)
	cfg := testConfig(t, ts.URL)

	storePath := filepath.Join(t.TempDir(), "reviews.ndjson")
	store, err := jsonbackend.New(storePath)
	if err != nil {
		t.Fatalf("jsonbackend: %v", err)
	}
	defer store.Close()

	p := newPipeline(t, cfg, Options{Store: store})
	out, err := p.Run(context.Background(), cfg.Query())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Target.DisplayName != "EZ Smokez Smoke Shop" || out.Target.Source != review.SourceSlug {
		t.Errorf("unexpected target %+v", out.Target)
	}
	if out.Target.CanonicalURL != ts.URL+"/biz/"+ezSlug {
		t.Errorf("canonical = %q", out.Target.CanonicalURL)
	}
	if got := len(out.Harvest.Reviews); got != 13 {
		t.Errorf("raw reviews = %d, want 13", got)
	}
	if out.Harvest.Stop != harvest.StopExhausted {
		t.Errorf("stop = %q, want exhausted", out.Harvest.Stop)
	}
	if got := len(out.Matched); got != 2 {
		t.Fatalf("matched = %d, want 2", got)
	}
	if _, ok := hits.Load("30"); ok {
		t.Error("fetched past the exhausted page")
	}

	rows := readCSV(t, out.MatchedPath)
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header + 2", len(rows))
	}
	if strings.Join(rows[0], ",") != "business_name,reviewer,date,rating,text,matched_keywords" {
		t.Errorf("header = %v", rows[0])
	}
	for _, row := range rows[1:] {
		if row[0] != "EZ Smokez Smoke Shop" || row[5] != "friendly" {
			t.Errorf("unexpected row %v", row)
		}
	}
	if rows[1][4] != "Super friendly staff and a big selection." || rows[2][4] != "FRIENDLY owner, fair prices." {
		t.Errorf("rows out of page order: %v", rows[1:])
	}
	if filepath.Base(out.MatchedPath) != "EZ_Smokez_Smoke_Shop_reviews.csv" {
		t.Errorf("matched path = %q", out.MatchedPath)
	}

	all := readCSV(t, out.AllPath)
	if len(all) != 14 {
		t.Errorf("all-reviews rows = %d, want header + 13", len(all))
	}

	recs, err := store.Query(context.Background(), storage.Filter{RunID: out.Summary.RunID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("stored %d records, want 2", len(recs))
	}

	if out.Summary.RawReviews != 13 || out.Summary.Matched != 2 || out.Summary.ByKeyword["friendly"] != 2 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
}

func TestRun_NoMatchesWritesNoMatchedFile(t *testing.T) {
	ts := ezSmokez(t, nil)
	cfg := testConfig(t, ts.URL)
	cfg.Keywords = []string{"hookah"}

	out, err := newPipeline(t, cfg, Options{}).Run(context.Background(), cfg.Query())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.MatchedPath != "" {
		t.Errorf("expected no matched export, got %q", out.MatchedPath)
	}
	matched, _ := csvbackend.FileNames(cfg.OutputDir, "EZ Smokez Smoke Shop")
	if _, err := os.Stat(matched); !os.IsNotExist(err) {
		t.Errorf("expected no file at %s, stat err = %v", matched, err)
	}
	if out.AllPath == "" {
		t.Error("expected the all-reviews export to be written")
	}
}

func TestRun_InvalidQueryFetchesNothing(t *testing.T) {
	opened := false
	cfg := testConfig(t, "http://127.0.0.1:1")
	p := newPipeline(t, cfg, Options{NewSession: func(context.Context) (scraper.Session, error) {
		opened = true
		return nil, errors.New("unexpected")
	}})

	_, err := p.Run(context.Background(), review.BusinessQuery{Name: " ", Locality: "Las Vegas"})
	if !errors.Is(err, review.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if opened {
		t.Error("session opened for an invalid query")
	}
}

func TestRun_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	cfg := testConfig(t, ts.URL)
	cfg.MaxSuffix = 2

	out, err := newPipeline(t, cfg, Options{}).Run(context.Background(), cfg.Query())
	if !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if out.Summary.Error == "" {
		t.Error("expected error recorded on summary")
	}
}

type memCache struct {
	mu sync.Mutex
	m  map[string]review.Target
}

func (c *memCache) Get(_ context.Context, slug string) (review.Target, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.m[slug]
	return t, ok, nil
}

func (c *memCache) Set(_ context.Context, slug string, t review.Target, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[slug] = t
	return nil
}

func TestRun_UsesCache(t *testing.T) {
	ts := ezSmokez(t, nil)
	cfg := testConfig(t, ts.URL)
	cache := &memCache{m: map[string]review.Target{}}
	p := newPipeline(t, cfg, Options{Cache: cache})

	if _, err := p.Run(context.Background(), cfg.Query()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, ok := cache.m[ezSlug]; !ok {
		t.Fatalf("expected target cached under %q", ezSlug)
	}

	out, err := p.Run(context.Background(), cfg.Query())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Target.Source != review.SourceCache {
		t.Errorf("source = %q, want cache", out.Target.Source)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(cfg, Options{NewSession: func(context.Context) (scraper.Session, error) { return nil, nil }})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected config.ErrInvalid, got %v", err)
	}
}
