package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/FranksOps/harrow/internal/review"
	"golang.org/x/sync/errgroup"
)

// RunBatch runs every query with at most Concurrency sessions open at once.
// Outcomes are returned in query order. Per-business failures, not-found
// included, are recorded on the Outcome and do not stop the batch; only
// cancellation does.
func (p *Pipeline) RunBatch(ctx context.Context, queries []review.BusinessQuery) ([]Outcome, error) {
	outcomes := make([]Outcome, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, q := range queries {
		if gCtx.Err() != nil {
			break
		}
		i, q := i, q
		g.Go(func() error {
			out, err := p.Run(gCtx, q)
			outcomes[i] = out
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.Is(err, review.ErrNotFound):
				p.logger.Warn("business not found", "business", q.Name, "locality", q.Locality)
			default:
				p.logger.Error("business run failed", "business", q.Name, "locality", q.Locality, "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// ParseBatch reads name,locality pairs, one per line. Blank lines, lines
// starting with # and a leading name,locality header are skipped.
func ParseBatch(r io.Reader) ([]review.BusinessQuery, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []review.BusinessQuery
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: batch: %w", err)
		}
		if first && len(rec) == 2 && strings.EqualFold(strings.TrimSpace(rec[0]), "name") && strings.EqualFold(strings.TrimSpace(rec[1]), "locality") {
			continue
		}
		if len(rec) != 2 {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("pipeline: batch line %d: want name,locality, got %d fields", line, len(rec))
		}
		out = append(out, review.BusinessQuery{Name: strings.TrimSpace(rec[0]), Locality: strings.TrimSpace(rec[1])})
	}
	return out, nil
}
