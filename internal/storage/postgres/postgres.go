// Package postgres stores review records in PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/harrow/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	target_url TEXT NOT NULL,
	business_name TEXT NOT NULL,
	reviewer TEXT NOT NULL,
	published TEXT NOT NULL,
	rating DOUBLE PRECISION,
	text TEXT NOT NULL,
	source_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	page INTEGER NOT NULL,
	matched_keywords TEXT[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reviews_business_idx ON reviews (business_name, created_at DESC);
`

// New connects to dsn and creates the schema if needed.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.Record) error {
	kws := r.MatchedKeywords
	if kws == nil {
		kws = []string{}
	}

	const query = `
	INSERT INTO reviews (
		id, run_id, target_url, business_name, reviewer, published, rating, text,
		source_id, strategy, page, matched_keywords, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := b.pool.Exec(ctx, query,
		r.ID, r.RunID, r.TargetURL, r.BusinessName, r.Reviewer, r.Published, r.Rating, r.Text,
		r.SourceID, r.Strategy, r.Page, kws, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT id, run_id, target_url, business_name, reviewer, published, rating, text,
		source_id, strategy, page, matched_keywords, created_at FROM reviews WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.BusinessName != "" {
		query += ` AND business_name = ` + arg(filter.BusinessName)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.Keyword != "" {
		query += ` AND ` + arg(filter.Keyword) + ` = ANY(matched_keywords)`
	}
	if filter.Since != nil {
		query += ` AND created_at >= ` + arg(*filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	defer rows.Close()

	var results []*storage.Record
	for rows.Next() {
		var r storage.Record
		err := rows.Scan(
			&r.ID, &r.RunID, &r.TargetURL, &r.BusinessName, &r.Reviewer, &r.Published, &r.Rating, &r.Text,
			&r.SourceID, &r.Strategy, &r.Page, &r.MatchedKeywords, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
