//go:build sqlite_fts5

package graph

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
			entity_id UNINDEXED,
			project_id UNINDEXED,
			entity_type UNINDEXED,
			title,
			permalink,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func (tx *Tx) ftsUpsert(e *models.Entity, body string, tags []string) error {
	_, _ = tx.tx.Exec(`DELETE FROM entities_fts WHERE entity_id = ?`, e.ID)
	_, err := tx.tx.Exec(`
		INSERT INTO entities_fts (entity_id, project_id, entity_type, title, permalink, body, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.EntityType, e.Title, permalinkVariants(e.Permalink), body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("graph: upsert fts: %w", err)
	}
	return nil
}

func (tx *Tx) ftsDelete(entityID int64) {
	_, _ = tx.tx.Exec(`DELETE FROM entities_fts WHERE entity_id = ?`, entityID)
}

func (tx *Tx) ftsClearProject(projectID int64) {
	_, _ = tx.tx.Exec(`DELETE FROM entities_fts WHERE project_id = ?`, projectID)
}

// Search performs an FTS5 full-text search scoped to one project and returns
// ranked results with snippets.
func (db *DB) Search(projectID int64, query string, f SearchFilters) ([]SearchResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	q := `
		SELECT entity_id, project_id, title, permalink,
		       snippet(entities_fts, 5, '<b>', '</b>', '...', 64)
		FROM entities_fts
		WHERE entities_fts MATCH ? AND project_id = ?`
	args := []any{query, projectID}
	if f.EntityType != "" {
		q += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	q += ` ORDER BY rank LIMIT ?`
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
