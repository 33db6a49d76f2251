package scraper

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/pkg/httpclient"
)

// ThrottleRetry configures RetryThrottled.
type ThrottleRetry struct {
	// MaxRetries is the number of refetches after the first throttled
	// answer (default 3).
	MaxRetries int
	// BaseBackoff is the first backoff step when the host sends no
	// Retry-After (default 1s).
	BaseBackoff time.Duration
	Logger      *slog.Logger
}

// RetryThrottled wraps s so that a fetch failing with ErrThrottled is tried
// again after a backoff. The wait honours FetchError.RetryAfter and otherwise
// grows exponentially. Once retries run out the last error is returned.
// Other errors pass through untouched.
func RetryThrottled(s Session, cfg ThrottleRetry) Session {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &throttleRetrier{Session: s, cfg: cfg}
}

type throttleRetrier struct {
	Session
	cfg ThrottleRetry
}

func (t *throttleRetrier) Fetch(ctx context.Context, target string) (*Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := t.Session.Fetch(ctx, target)
		if err == nil || !errors.Is(err, ErrThrottled) || attempt >= t.cfg.MaxRetries {
			return page, err
		}

		var wait time.Duration
		status := 0
		var fe *FetchError
		if errors.As(err, &fe) {
			wait = fe.RetryAfter
			status = fe.StatusCode
		}
		if wait <= 0 {
			wait = httpclient.Backoff(t.cfg.BaseBackoff, attempt)
		}
		metrics.ThrottleRetries.WithLabelValues(strconv.Itoa(status)).Inc()
		t.cfg.Logger.Warn("throttled, backing off", "url", target, "attempt", attempt+1, "status", status, "wait", wait)
		if !httpclient.SleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}
