package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FranksOps/harrow/internal/config"
	"github.com/FranksOps/harrow/internal/fingerprint"
	"github.com/FranksOps/harrow/internal/scraper"
	"github.com/FranksOps/harrow/internal/storage"
	"github.com/FranksOps/harrow/internal/storage/jsonbackend"
	"github.com/FranksOps/harrow/internal/storage/postgres"
	"github.com/FranksOps/harrow/internal/storage/sqlite"
	"github.com/FranksOps/harrow/pkg/proxy"
	"github.com/FranksOps/harrow/pkg/ratelimit"
	"github.com/FranksOps/harrow/pkg/useragent"
)

// SessionFactory opens the Session owned by one run.
type SessionFactory func(ctx context.Context) (scraper.Session, error)

// NewSessionFactory returns a factory for the fetch mode in cfg. Proxies and
// User-Agents are shared across sessions; each session gets its own pacing.
// Throttled fetches are retried up to cfg.Retries times in either mode.
func NewSessionFactory(cfg config.Config, logger *slog.Logger) (SessionFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var pool *proxy.Pool
	if cfg.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(cfg.ProxyFile); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		logger.Info("loaded proxies", "count", pool.Len(), "healthy", pool.Healthy(), "file", cfg.ProxyFile)
	}
	uas := useragent.NewPool(nil)

	switch cfg.Mode {
	case "http":
		return func(ctx context.Context) (scraper.Session, error) {
			s, err := scraper.NewHTTPSession(scraper.HTTPConfig{
				Timeout:       cfg.Timeout,
				MaxRetries:    cfg.Retries,
				ProxyPool:     pool,
				UAPool:        uas,
				Fingerprint:   profile,
				Limiter:       ratelimit.NewLimiter(cfg.Delay, cfg.Jitter),
				RespectRobots: cfg.RespectRobots,
				Logger:        logger,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	case "browser":
		return func(ctx context.Context) (scraper.Session, error) {
			var proxyURL string
			if pool != nil {
				if u := pool.Next(); u != nil {
					proxyURL = u.String()
				}
			}
			s, err := scraper.NewBrowserSession(ctx, scraper.BrowserConfig{
				Headless:  cfg.Headless,
				ExecPath:  cfg.ChromePath,
				UserAgent: uas.ForFamily(useragent.Chrome).GetRandom(),
				ProxyURL:  proxyURL,
				Timeout:   cfg.Timeout,
				Limiter:   ratelimit.NewLimiter(cfg.Delay, cfg.Jitter),
				Logger:    logger,
			})
			if err != nil {
				return nil, err
			}
			// HTTP sessions back off inside their client; the browser
			// needs the same treatment around navigation.
			return scraper.RetryThrottled(s, scraper.ThrottleRetry{MaxRetries: cfg.Retries, Logger: logger}), nil
		}, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown mode %q", cfg.Mode)
	}
}

// OpenStore opens the review store named by cfg. It returns nil when no store
// is configured.
func OpenStore(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.StoreKind {
	case "":
		return nil, nil
	case "json":
		return jsonbackend.New(cfg.StoreDSN)
	case "sqlite":
		return sqlite.New(cfg.StoreDSN)
	case "postgres":
		return postgres.New(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("pipeline: unknown store %q", cfg.StoreKind)
	}
}
