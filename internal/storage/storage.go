// Package storage defines the persisted review store. Implementations live
// in the subpackages; the CSV exporter in csvbackend writes run output files.
package storage

import (
	"context"
	"time"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/google/uuid"
)

// Record is one review as persisted by a Backend.
type Record struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	TargetURL string    `json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
	review.FilteredReview
}

// NewRecord stamps r with a fresh ID for storage.
func NewRecord(runID, targetURL string, r review.FilteredReview, now time.Time) *Record {
	return &Record{
		ID:             uuid.NewString(),
		RunID:          runID,
		TargetURL:      targetURL,
		CreatedAt:      now.UTC(),
		FilteredReview: r,
	}
}

// Filter selects stored records. Zero fields do not filter.
type Filter struct {
	BusinessName string
	RunID        string
	// Keyword matches records tagged with this keyword.
	Keyword string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Backend stores and queries review records. Query returns newest first.
type Backend interface {
	Save(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// SaveAll saves recs in order, stopping at the first error.
func SaveAll(ctx context.Context, b Backend, recs []*Record) error {
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Match applies f to r in memory, for backends without a query engine.
func (f Filter) Match(r *Record) bool {
	if f.BusinessName != "" && r.BusinessName != f.BusinessName {
		return false
	}
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Keyword != "" {
		found := false
		for _, k := range r.MatchedKeywords {
			if k == f.Keyword {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func (f Filter) Page(recs []*Record) []*Record {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*Record{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}
