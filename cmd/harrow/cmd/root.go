// Package cmd holds the harrow command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/FranksOps/harrow/internal/cache"
	"github.com/FranksOps/harrow/internal/config"
	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/internal/pipeline"
	"github.com/FranksOps/harrow/internal/report"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "harrow",
	Short:         "harrow harvests and filters reviews of a business from a review site.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(scrapeCmd, batchCmd, slugCmd)
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, config.ErrInvalid) {
			return 2
		}
		return 1
	}
	return 0
}

// runner is everything a command needs to run the pipeline.
type runner struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	closers  []func()
}

func (r *runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newRunner loads configuration and opens the optional metrics server, cache
// and store. Close releases them.
func newRunner(cmd *cobra.Command, overrides map[string]any) (*runner, error) {
	cfg, err := config.Load(cmd.Flags(), overrides)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	ctx := cmd.Context()

	r := &runner{cfg: cfg, logger: logger}
	opts := pipeline.Options{Logger: logger}

	if cfg.MetricsPort > 0 {
		srv := metrics.Start(cfg.MetricsPort, logger)
		r.closers = append(r.closers, func() { _ = srv.Stop(context.Background()) })
	}

	if cfg.CacheAddr != "" {
		c, err := cache.NewRedis(ctx, cfg.CacheAddr, os.Getenv("HARROW_CACHE_PASSWORD"), 0)
		if err != nil {
			// resolution still works without a cache
			logger.Warn("target cache unavailable", "addr", cfg.CacheAddr, "err", err)
		} else {
			opts.Cache = c
			r.closers = append(r.closers, func() { _ = c.Close() })
		}
	}

	store, err := pipeline.OpenStore(ctx, cfg)
	if err != nil {
		r.Close()
		return nil, err
	}
	if store != nil {
		opts.Store = store
		r.closers = append(r.closers, func() { _ = store.Close() })
	}

	opts.NewSession, err = pipeline.NewSessionFactory(cfg, logger)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.pipeline, err = pipeline.New(cfg, opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func writeReport(w io.Writer, format string, s report.Summary) error {
	switch format {
	case "json":
		return report.WriteJSON(w, s)
	case "html":
		return report.WriteHTML(w, s)
	case "none":
		return nil
	default:
		return report.WriteText(w, s)
	}
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
