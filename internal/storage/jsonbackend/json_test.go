package jsonbackend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/FranksOps/harrow/internal/storage"
	"github.com/FranksOps/harrow/internal/storage/storagetest"
)

func TestJSONBackend(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "reviews.jsonl"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	storagetest.Run(t, b)
}

func TestJSONBackend_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reviews.jsonl")
	ctx := context.Background()

	b, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &storage.Record{ID: "1", RunID: "run-1", FilteredReview: review.FilteredReview{
		RawReview:       review.RawReview{BusinessName: "EZ Smokez Smoke Shop", Text: "friendly"},
		MatchedKeywords: []string{"friendly"},
	}}
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	got, err := b.Query(ctx, storage.Filter{Keyword: "friendly"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" || got[0].Text != "friendly" {
		t.Errorf("Query after reopen = %+v", got)
	}
}

func TestJSONBackend_SaveCanceled(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "reviews.jsonl"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Save(ctx, &storage.Record{ID: "x"}); err == nil {
		t.Fatal("expected error from canceled Save")
	}
}
