package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the "outcome" label of PagesFetched.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeThrottled = "throttled"
	OutcomeError     = "error"
)

var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_pages_fetched_total",
			Help: "Pages fetched by session mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harrow_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	ReviewsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_reviews_extracted_total",
			Help: "Raw reviews produced, by extraction strategy",
		},
		[]string{"strategy"},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_resolutions_total",
			Help: "Target resolutions by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ThrottleRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_throttle_retries_total",
			Help: "Backoff retries triggered by throttled responses",
		},
		[]string{"status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_cache_ops_total",
			Help: "Target cache operations by backend and result",
		},
		[]string{"backend", "result"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrow_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)
)

// RecordFetch counts one page fetch and observes its duration.
func RecordFetch(mode, outcome string, d time.Duration) {
	PagesFetched.WithLabelValues(mode, outcome).Inc()
	FetchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordReviews adds n reviews produced by strategy.
func RecordReviews(strategy string, n int) {
	if n <= 0 {
		return
	}
	ReviewsExtracted.WithLabelValues(strategy).Add(float64(n))
}

// RecordResolution counts a resolver decision. source is empty on failure.
func RecordResolution(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "not_found"
	}
	if source == "" {
		source = "none"
	}
	Resolutions.WithLabelValues(source, outcome).Inc()
}

// ObserveCache counts a cache operation ("hit", "miss", "set", "error").
func ObserveCache(backend, result string) {
	CacheLookups.WithLabelValues(backend, result).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", srv.Addr, "err", err)
		}
	}()
	logger.Info("metrics server listening", "addr", srv.Addr)

	return &Server{srv: srv, logger: logger}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
