// Package storagetest checks that a storage.Backend honours the contract.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/storage"
)

// Run saves a small fixture set into b and exercises Query. b must be empty.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	older := storage.NewRecord("run-1", "https://reviews.test/biz/ez", review.FilteredReview{
		RawReview: review.RawReview{
			BusinessName: "EZ Smokez Smoke Shop",
			Reviewer:     "Alice",
			Published:    "1/15/2026",
			Rating:       review.Rating(4.5),
			Text:         "Friendly staff",
			SourceID:     "r1",
			Strategy:     "html",
			Page:         0,
		},
		MatchedKeywords: []string{"friendly"},
	}, now.Add(-2*time.Hour))

	newer := storage.NewRecord("run-2", "https://reviews.test/biz/ez", review.FilteredReview{
		RawReview: review.RawReview{
			BusinessName: "EZ Smokez Smoke Shop",
			Reviewer:     review.NotAvailable,
			Published:    review.NotAvailable,
			Text:         "Cheap and friendly",
			Strategy:     "jsonld",
			Page:         1,
		},
		MatchedKeywords: []string{"cheap", "friendly"},
	}, now.Add(-time.Hour))

	other := storage.NewRecord("run-2", "https://reviews.test/biz/other", review.FilteredReview{
		RawReview:       review.RawReview{BusinessName: "Other Vape", Reviewer: "Bob", Published: "2/1/2026", Text: "Rude"},
		MatchedKeywords: []string{"rude"},
	}, now)

	if err := storage.SaveAll(ctx, b, []*storage.Record{older, newer, other}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{BusinessName: "EZ Smokez Smoke Shop"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}

	a := got[1]
	if a.Reviewer != "Alice" || a.Published != "1/15/2026" || a.Text != "Friendly staff" || a.SourceID != "r1" || a.RunID != "run-1" {
		t.Errorf("round trip lost fields: %+v", a)
	}
	if a.Rating == nil || *a.Rating != 4.5 {
		t.Errorf("rating = %v, want 4.5", a.Rating)
	}
	if !a.CreatedAt.Equal(older.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, older.CreatedAt)
	}
	if got[0].Rating != nil {
		t.Errorf("unrated record came back with %v", *got[0].Rating)
	}
	if len(got[0].MatchedKeywords) != 2 || got[0].MatchedKeywords[0] != "cheap" {
		t.Errorf("keywords = %v", got[0].MatchedKeywords)
	}

	got, err = b.Query(ctx, storage.Filter{Keyword: "friendly", RunID: "run-2"})
	if err != nil {
		t.Fatalf("Query keyword: %v", err)
	}
	if len(got) != 1 || got[0].ID != newer.ID {
		t.Errorf("keyword+run filter returned %d records", len(got))
	}

	since := now.Add(-90 * time.Minute)
	got, err = b.Query(ctx, storage.Filter{Since: &since, Limit: 1})
	if err != nil {
		t.Fatalf("Query since: %v", err)
	}
	if len(got) != 1 || got[0].ID != other.ID {
		t.Errorf("since+limit returned %v", got)
	}

	got, err = b.Query(ctx, storage.Filter{Offset: 2})
	if err != nil {
		t.Fatalf("Query offset: %v", err)
	}
	if len(got) != 1 || got[0].ID != older.ID {
		t.Errorf("offset returned %d records", len(got))
	}
}
