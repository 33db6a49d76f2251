// Package csvbackend writes review exports as CSV files with a fixed column
// layout.
package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/FranksOps/harrow/internal/review"
)

// Header is the column order of every export.
var Header = []string{
	"business_name",
	"reviewer",
	"date",
	"rating",
	"text",
	"matched_keywords",
}

// KeywordSeparator joins matched keywords in one cell.
const KeywordSeparator = ", "

// Exporter writes CSV exports.
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Export writes reviews to path. With no reviews it logs a notice and leaves
// the filesystem untouched. The file appears atomically: rows go to a
// temporary file in the same directory which is renamed over path only after
// a successful flush, so an aborted run never leaves a partial export.
func (e *Exporter) Export(ctx context.Context, reviews []review.FilteredReview, path string) (bool, error) {
	if len(reviews) == 0 {
		e.logger.Info("no reviews to export, skipping file", "path", path)
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("csvbackend: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("csvbackend: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Write(tmp, reviews); err != nil {
		return false, err
	}
	if err := tmp.Sync(); err != nil {
		return false, fmt.Errorf("csvbackend: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("csvbackend: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, fmt.Errorf("csvbackend: %w", err)
	}
	committed = true

	e.logger.Info("exported reviews", "path", path, "rows", len(reviews))
	return true, nil
}

// Write encodes the header and one row per review to w.
func Write(w io.Writer, reviews []review.FilteredReview) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("csvbackend: %w", err)
	}
	for _, r := range reviews {
		if err := cw.Write(Row(r)); err != nil {
			return fmt.Errorf("csvbackend: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csvbackend: %w", err)
	}
	return nil
}

// Row renders one review in Header order. Unrated reviews get an empty
// rating cell.
func Row(r review.FilteredReview) []string {
	return []string{
		r.BusinessName,
		r.Reviewer,
		r.Published,
		r.RatingString(),
		r.Text,
		strings.Join(r.MatchedKeywords, KeywordSeparator),
	}
}

var unsafeName = regexp.MustCompile(`[^\w\s-]`)

// SafeName turns a display name into a file-name stem: punctuation other
// than '-' and '_' is dropped, spaces become underscores, and the result is
// cut to 50 characters.
func SafeName(displayName string) string {
	s := unsafeName.ReplaceAllString(strings.TrimSpace(displayName), "")
	s = strings.ReplaceAll(s, " ", "_")
	if r := []rune(s); len(r) > 50 {
		s = string(r[:50])
	}
	if s == "" {
		s = "business"
	}
	return s
}

// FileNames returns the matched-reviews and all-reviews export paths for a
// business under dir.
func FileNames(dir, displayName string) (matched, all string) {
	stem := SafeName(displayName)
	return filepath.Join(dir, stem+"_reviews.csv"), filepath.Join(dir, stem+"_reviews_all.csv")
}

// Read loads an export back, for tests and tooling.
func Read(r io.Reader) ([][]string, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}
	return rows, nil
}
