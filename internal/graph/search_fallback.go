//go:build !sqlite_fts5

package graph

import (
	"database/sql"
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; search falls back to LIKE over search_index.
	return nil
}

func (tx *Tx) ftsUpsert(_ *models.Entity, _ string, _ []string) error {
	// The projection already lives in search_index; nothing extra to do.
	return nil
}

func (tx *Tx) ftsDelete(_ int64) {}

func (tx *Tx) ftsClearProject(_ int64) {}

// Search performs a LIKE-based search over the plain projection (fallback
// when FTS5 is not compiled in).
func (db *DB) Search(projectID int64, query string, f SearchFilters) ([]SearchResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"

	q := `
		SELECT s.entity_id, s.project_id, s.title, s.permalink, substr(s.body, 1, 200)
		FROM search_index s
		JOIN entities e ON e.id = s.entity_id
		WHERE s.project_id = ?
		  AND (s.title LIKE ? OR s.permalink LIKE ? OR s.body LIKE ? OR s.tags LIKE ?)`
	args := []any{projectID, like, like, like, like}
	if f.EntityType != "" {
		q += ` AND e.entity_type = ?`
		args = append(args, f.EntityType)
	}
	q += ` ORDER BY s.title LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.EntityID, &r.ProjectID, &r.Title, &r.Permalink, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
