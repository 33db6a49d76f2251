// Package sqlite stores review records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/harrow/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	target_url TEXT NOT NULL,
	business_name TEXT NOT NULL,
	reviewer TEXT NOT NULL,
	published TEXT NOT NULL,
	rating REAL,
	text TEXT NOT NULL,
	source_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	page INTEGER NOT NULL,
	matched_keywords TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS reviews_business_idx ON reviews (business_name, created_at);
`

// New opens the database at dsn and creates the schema if needed.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.Record) error {
	kws, err := json.Marshal(r.MatchedKeywords)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	const query = `
	INSERT INTO reviews (
		id, run_id, target_url, business_name, reviewer, published, rating, text,
		source_id, strategy, page, matched_keywords, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		r.ID, r.RunID, r.TargetURL, r.BusinessName, r.Reviewer, r.Published, r.Rating, r.Text,
		r.SourceID, r.Strategy, r.Page, string(kws), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, run_id, target_url, business_name, reviewer, published, rating, text,
		source_id, strategy, page, matched_keywords, created_at FROM reviews WHERE 1=1`
	args := []any{}

	if filter.BusinessName != "" {
		query += ` AND business_name = ?`
		args = append(args, filter.BusinessName)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Keyword != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(reviews.matched_keywords) WHERE json_each.value = ?)`
		args = append(args, filter.Keyword)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	var results []*storage.Record
	for rows.Next() {
		var (
			r   storage.Record
			kws string
		)
		err := rows.Scan(
			&r.ID, &r.RunID, &r.TargetURL, &r.BusinessName, &r.Reviewer, &r.Published, &r.Rating, &r.Text,
			&r.SourceID, &r.Strategy, &r.Page, &kws, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := json.Unmarshal([]byte(kws), &r.MatchedKeywords); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
