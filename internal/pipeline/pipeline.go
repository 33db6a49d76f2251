// Package pipeline runs the harvest for one business or a batch of them:
// resolve the target, walk its review pages, filter by keyword, export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/harrow/internal/analyzer"
	"github.com/FranksOps/harrow/internal/config"
	"github.com/FranksOps/harrow/internal/extract"
	"github.com/FranksOps/harrow/internal/harvest"
	"github.com/FranksOps/harrow/internal/report"
	"github.com/FranksOps/harrow/internal/resolver"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/serp"
	"github.com/FranksOps/harrow/internal/storage"
	"github.com/FranksOps/harrow/internal/storage/csvbackend"
	"github.com/google/uuid"
)

// Options carry the collaborators of a Pipeline. Only NewSession is required.
type Options struct {
	NewSession SessionFactory
	Cache      resolver.Cache
	Store      storage.Backend
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline holds the run configuration and shared collaborators.
type Pipeline struct {
	cfg      config.Config
	opts     Options
	matcher  *analyzer.Matcher
	exporter *csvbackend.Exporter
	logger   *slog.Logger
}

// Outcome is what one business run produced.
type Outcome struct {
	Query   review.BusinessQuery
	Target  review.Target
	Harvest harvest.Result
	Matched []review.FilteredReview
	// MatchedPath and AllPath are empty when the file was not written.
	MatchedPath string
	AllPath     string
	Summary     report.Summary
	Err         error
}

// New validates cfg and builds a Pipeline.
func New(cfg config.Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.NewSession == nil {
		return nil, errors.New("pipeline: session factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		cfg:      cfg,
		opts:     opts,
		matcher:  analyzer.NewMatcher(cfg.Keywords),
		exporter: csvbackend.NewExporter(opts.Logger),
		logger:   opts.Logger,
	}, nil
}

// Run harvests q end to end with its own Session. The returned Outcome is
// populated as far as the run got, even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, q review.BusinessQuery) (Outcome, error) {
	out := Outcome{Query: q}
	out.Summary = report.Summary{
		RunID:     uuid.NewString(),
		Business:  q.Name,
		Locality:  q.Locality,
		StartTime: p.opts.Now(),
	}

	err := p.run(ctx, q, &out)
	out.Err = err
	if err != nil {
		out.Summary.Error = err.Error()
	}
	out.Summary.Finish(p.opts.Now())
	return out, err
}

func (p *Pipeline) run(ctx context.Context, q review.BusinessQuery, out *Outcome) error {
	if err := q.Validate(); err != nil {
		return err
	}
	logger := p.logger.With("business", q.Name, "locality", q.Locality, "run", out.Summary.RunID)

	session, err := p.opts.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("session close failed", "err", err)
		}
	}()

	res := resolver.New(session, resolver.Config{
		BaseURL:   p.cfg.BaseURL,
		MaxSuffix: p.cfg.MaxSuffix,
		Search: &serp.SiteSearch{
			Session:      session,
			BaseURL:      p.cfg.BaseURL,
			ReadyTimeout: p.cfg.ReadyTimeout,
			Logger:       logger,
		},
		Cache:    p.opts.Cache,
		CacheTTL: p.cfg.CacheTTL,
		Logger:   logger,
	})
	target, err := res.Resolve(ctx, q)
	if err != nil {
		return err
	}
	out.Target = target
	out.Summary.DisplayName = target.DisplayName
	out.Summary.CanonicalURL = target.CanonicalURL
	out.Summary.Source = string(target.Source)
	out.Summary.Similarity = target.Similarity

	ctrl := harvest.NewController(session, harvest.Config{
		PageSize:     p.cfg.PageSize,
		ReadyTimeout: p.cfg.ReadyTimeout,
		Strategies:   extract.DefaultSet(p.cfg.StructuredAllPages),
		Logger:       logger,
	})
	hres, err := ctrl.ExtractAll(ctx, target, p.cfg.MaxPages)
	out.Harvest = hres
	out.Summary.PagesFetched = hres.PagesFetched
	out.Summary.PagesSkipped = hres.PagesSkipped
	out.Summary.Stop = string(hres.Stop)
	if err != nil {
		return err
	}

	out.Matched = p.matcher.Filter(hres.Reviews)
	sum := report.GenerateSummary(hres.Reviews, out.Matched)
	out.Summary.RawReviews = sum.RawReviews
	out.Summary.Matched = sum.Matched
	out.Summary.Unrated = sum.Unrated
	out.Summary.ByStrategy = sum.ByStrategy
	out.Summary.ByKeyword = sum.ByKeyword
	logger.Info("reviews filtered", "raw", len(hres.Reviews), "matched", len(out.Matched), "keywords", p.matcher.Keywords())
	for _, r := range out.Matched {
		kw := r.MatchedKeywords[0]
		logger.Debug("review matched", "page", r.Page, "reviewer", r.Reviewer, "keyword", kw, "excerpt", analyzer.Excerpt(r.Text, kw))
	}

	matchedPath, allPath := csvbackend.FileNames(p.cfg.OutputDir, target.DisplayName)
	wrote, err := p.exporter.Export(ctx, out.Matched, matchedPath)
	if err != nil {
		return err
	}
	if wrote {
		out.MatchedPath = matchedPath
		out.Summary.MatchedPath = matchedPath
	}
	if p.cfg.SaveAll {
		wrote, err := p.exporter.Export(ctx, p.matcher.Tag(hres.Reviews), allPath)
		if err != nil {
			return err
		}
		if wrote {
			out.AllPath = allPath
			out.Summary.AllPath = allPath
		}
	}

	if p.opts.Store != nil && len(out.Matched) > 0 {
		now := p.opts.Now()
		recs := make([]*storage.Record, 0, len(out.Matched))
		for _, r := range out.Matched {
			recs = append(recs, storage.NewRecord(out.Summary.RunID, target.CanonicalURL, r, now))
		}
		if err := storage.SaveAll(ctx, p.opts.Store, recs); err != nil {
			return fmt.Errorf("pipeline: store: %w", err)
		}
		logger.Info("reviews stored", "count", len(recs))
	}
	return nil
}
