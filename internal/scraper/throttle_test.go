package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/FranksOps/harrow/internal/scraper/scrapertest"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const page = "https://reviews.test/biz/ez-smokez-smoke-shop-las-vegas"

func throttledResponse(retryAfter time.Duration) scrapertest.Response {
	return scrapertest.Response{Err: &scraper.FetchError{URL: page, StatusCode: 429, RetryAfter: retryAfter, Err: scraper.ErrThrottled}}
}

func TestRetryThrottled_RecoversAndCounts(t *testing.T) {
	fake := scrapertest.New(map[string]scrapertest.Response{page: {HTML: "<h1>EZ</h1>"}})
	fake.Queue(page, throttledResponse(0), throttledResponse(time.Millisecond))
	before := testutil.ToFloat64(metrics.ThrottleRetries.WithLabelValues("429"))

	s := scraper.RetryThrottled(fake, scraper.ThrottleRetry{MaxRetries: 3, BaseBackoff: time.Millisecond})
	p, err := s.Fetch(context.Background(), page)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Doc.Find("h1").Text() != "EZ" {
		t.Errorf("unexpected page %q", p.HTML)
	}
	if n := len(fake.Fetched()); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
	if got := testutil.ToFloat64(metrics.ThrottleRetries.WithLabelValues("429")) - before; got != 2 {
		t.Errorf("throttle retries counted = %v, want 2", got)
	}
	if s.CurrentURL() != page {
		t.Errorf("CurrentURL = %q", s.CurrentURL())
	}
}

func TestRetryThrottled_GivesUp(t *testing.T) {
	fake := scrapertest.New(map[string]scrapertest.Response{page: throttledResponse(0)})

	s := scraper.RetryThrottled(fake, scraper.ThrottleRetry{MaxRetries: 2, BaseBackoff: time.Millisecond})
	_, err := s.Fetch(context.Background(), page)
	var fe *scraper.FetchError
	if !errors.As(err, &fe) || !errors.Is(err, scraper.ErrThrottled) || fe.StatusCode != 429 {
		t.Fatalf("expected throttled FetchError, got %v", err)
	}
	if n := len(fake.Fetched()); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestRetryThrottled_OtherErrorsPassThrough(t *testing.T) {
	fake := scrapertest.New(map[string]scrapertest.Response{
		page: {Err: fmt.Errorf("%w: slow", scraper.ErrTimeout)},
	})

	s := scraper.RetryThrottled(fake, scraper.ThrottleRetry{BaseBackoff: time.Millisecond})
	if _, err := s.Fetch(context.Background(), page); !errors.Is(err, scraper.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if n := len(fake.Fetched()); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestRetryThrottled_HonoursRetryAfterAndCancel(t *testing.T) {
	fake := scrapertest.New(map[string]scrapertest.Response{page: throttledResponse(time.Hour)})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := scraper.RetryThrottled(fake, scraper.ThrottleRetry{BaseBackoff: time.Millisecond})
	start := time.Now()
	_, err := s.Fetch(ctx, page)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff ignored cancellation")
	}
	if n := len(fake.Fetched()); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}
