package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using the generated tasks.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := `t.project_id = $2 AND t.fts @@ plainto_tsquery('english', $1)`
	args := []any{q.Text, q.ProjectID}
	if q.ListID != "" {
		where += ` AND t.list_id = $3`
		args = append(args, q.ListID)
	}

	ctx := context.Background()
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	limitArg := len(args) + 1
	query := fmt.Sprintf(`
		SELECT t.id, t.list_id, t.project_id, t.name,
			ts_headline('english', t.description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			t.position
		FROM tasks t
		WHERE %s
		ORDER BY ts_rank(t.fts, plainto_tsquery('english', $1)) DESC, t.id
		LIMIT $%d OFFSET $%d`, where, limitArg, limitArg+1)
	args = append(args, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TaskID, &r.ListID, &r.ProjectID, &r.Name, &r.Snippet, &r.Position); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords returns every task for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, list_id, name, description, position
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	records := make([]TaskRecord, 0)
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ListID, &r.Name, &r.Description, &r.Position); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return records, nil
}
