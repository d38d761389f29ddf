package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over public space names and descriptions,
// ranked, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('simple', $1)"
	const where = "s.is_public AND to_tsvector('simple', s.name || ' ' || s.description) @@ " + tsQuery

	ctx := context.Background()

	var total int
	countSQL := `SELECT count(*) FROM spaces s WHERE ` + where
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.name,
			ts_headline('simple', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			u.username
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', s.name || ' ' || s.description), %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.Owner); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every public space for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SpaceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.description, u.username
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.is_public
	`)
	if err != nil {
		return nil, fmt.Errorf("load spaces: %w", err)
	}
	defer rows.Close()

	records := make([]SpaceRecord, 0)
	for rows.Next() {
		var r SpaceRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Owner); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return records, nil
}
