package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/permalink"
)

// querier is satisfied by both *sql.DB and *sql.Tx so lookups can run inside
// or outside a document transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const entityCols = `id, project_id, title, entity_type, permalink, file_path, checksum, description, tags, created_at, updated_at`

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var tagsJSON string
	err := row.Scan(&e.ID, &e.ProjectID, &e.Title, &e.EntityType, &e.Permalink,
		&e.FilePath, &e.Checksum, &e.Description, &tagsJSON, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: scan entity: %w", err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
	return &e, nil
}

// UpsertEntity inserts or updates the entity keyed by (project_id, file_path)
// and fills in ID, Permalink, CreatedAt, and UpdatedAt. On insert the
// permalink is derived from the title (or the frontmatter override in
// e.Permalink) and disambiguated with a numeric suffix when another file
// already holds it; the earlier-created entity keeps the bare slug. On
// update the existing permalink is preserved unless the document pins a
// different one explicitly.
func (tx *Tx) UpsertEntity(e *models.Entity) (created bool, err error) {
	existing, err := entityByPath(tx.tx, e.ProjectID, e.FilePath)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}

	now := time.Now().UTC()
	base := e.Permalink
	if base == "" {
		base = permalink.Generate(e.Title)
	}
	if base == "" {
		base = permalink.Generate(e.FilePath)
	}

	if existing == nil {
		slug, err := tx.assignPermalink(e.ProjectID, 0, base)
		if err != nil {
			return false, err
		}
		tagsJSON, _ := json.Marshal(nonNil(e.Tags))
		res, err := tx.tx.Exec(`
			INSERT INTO entities (project_id, title, entity_type, permalink, file_path,
				checksum, description, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ProjectID, e.Title, e.EntityType, slug, e.FilePath, e.Checksum, e.Description, string(tagsJSON), now, now)
		if err != nil {
			return false, fmt.Errorf("graph: insert entity: %w", err)
		}
		e.ID, _ = res.LastInsertId()
		e.Permalink = slug
		e.CreatedAt = now
		e.UpdatedAt = now
		return true, nil
	}

	slug := existing.Permalink
	if e.Permalink != "" && e.Permalink != existing.Permalink {
		slug, err = tx.assignPermalink(e.ProjectID, existing.ID, e.Permalink)
		if err != nil {
			return false, err
		}
	}
	tagsJSON, _ := json.Marshal(nonNil(e.Tags))
	_, err = tx.tx.Exec(`
		UPDATE entities SET title = ?, entity_type = ?, permalink = ?, checksum = ?,
			description = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`, e.Title, e.EntityType, slug, e.Checksum, e.Description, string(tagsJSON), now, existing.ID)
	if err != nil {
		return false, fmt.Errorf("graph: update entity: %w", err)
	}
	e.ID = existing.ID
	e.Permalink = slug
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = now
	return false, nil
}

// assignPermalink returns base, or base-2, base-3, ..., the first slug not
// held by a different entity in the project. excludeID skips the entity
// being updated so it can keep its own slug.
func (tx *Tx) assignPermalink(projectID, excludeID int64, base string) (string, error) {
	for n := 1; ; n++ {
		candidate := permalink.WithSuffix(base, n)
		var holder int64
		err := tx.tx.QueryRow(`
			SELECT id FROM entities WHERE project_id = ? AND permalink = ?
		`, projectID, candidate).Scan(&holder)
		if errors.Is(err, sql.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("graph: check permalink: %w", err)
		}
		if holder == excludeID {
			return candidate, nil
		}
	}
}

// DeleteEntity removes the entity, its observations, its outgoing relations,
// and its search-index rows. Incoming relations survive with to_id cleared,
// turning them back into forward references (to_name is retained).
func (tx *Tx) DeleteEntity(id int64) error {
	if _, err := tx.tx.Exec(`UPDATE relations SET to_id = NULL WHERE to_id = ?`, id); err != nil {
		return fmt.Errorf("graph: unresolve incoming relations: %w", err)
	}
	if err := tx.searchDelete(id); err != nil {
		return err
	}
	// Observations and outgoing relations cascade via foreign keys.
	if _, err := tx.tx.Exec(`DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("graph: delete entity: %w", err)
	}
	return nil
}

// MoveEntity updates the entity's file path after a rename. When
// regeneratePermalink is set the permalink is rebuilt from the entity title
// (disambiguated as on insert); otherwise id and permalink are untouched.
func (tx *Tx) MoveEntity(id int64, newPath string, regeneratePermalink bool) (*models.Entity, error) {
	e, err := entityByID(tx.tx, id)
	if err != nil {
		return nil, err
	}
	slug := e.Permalink
	if regeneratePermalink {
		slug, err = tx.assignPermalink(e.ProjectID, id, permalink.Generate(e.Title))
		if err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	_, err = tx.tx.Exec(`
		UPDATE entities SET file_path = ?, permalink = ?, updated_at = ? WHERE id = ?
	`, newPath, slug, now, id)
	if err != nil {
		return nil, fmt.Errorf("graph: move entity: %w", err)
	}
	e.FilePath = newPath
	e.Permalink = slug
	e.UpdatedAt = now
	return e, nil
}

func entityByPath(q querier, projectID int64, path string) (*models.Entity, error) {
	return scanEntity(q.QueryRow(`
		SELECT `+entityCols+` FROM entities WHERE project_id = ? AND file_path = ?
	`, projectID, path))
}

func entityByID(q querier, id int64) (*models.Entity, error) {
	return scanEntity(q.QueryRow(`SELECT `+entityCols+` FROM entities WHERE id = ?`, id))
}

func entityByPermalink(q querier, projectID int64, slug string) (*models.Entity, error) {
	return scanEntity(q.QueryRow(`
		SELECT `+entityCols+` FROM entities WHERE project_id = ? AND permalink = ?
	`, projectID, slug))
}

// entitiesByTitle returns all entities whose title matches case-insensitively,
// earliest created first (ties broken by id for determinism).
func entitiesByTitle(q querier, projectID int64, title string) ([]models.Entity, error) {
	rows, err := q.Query(`
		SELECT `+entityCols+` FROM entities
		WHERE project_id = ? AND title = ? COLLATE NOCASE
		ORDER BY created_at, id
	`, projectID, title)
	if err != nil {
		return nil, fmt.Errorf("graph: entities by title: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// EntityByPath returns the entity backing the given file path.
func (db *DB) EntityByPath(projectID int64, path string) (*models.Entity, error) {
	return entityByPath(db.conn, projectID, path)
}

// EntityByPath is the transaction-scoped variant.
func (tx *Tx) EntityByPath(projectID int64, path string) (*models.Entity, error) {
	return entityByPath(tx.tx, projectID, path)
}

// EntityByPermalink is the transaction-scoped permalink lookup.
func (tx *Tx) EntityByPermalink(projectID int64, slug string) (*models.Entity, error) {
	return entityByPermalink(tx.tx, projectID, slug)
}

// EntitiesByTitle is the transaction-scoped title lookup, earliest first.
func (tx *Tx) EntitiesByTitle(projectID int64, title string) ([]models.Entity, error) {
	return entitiesByTitle(tx.tx, projectID, title)
}

// EntityByID returns the entity with the given id.
func (db *DB) EntityByID(id int64) (*models.Entity, error) {
	return entityByID(db.conn, id)
}

// EntityByPermalink returns the entity with the given permalink.
func (db *DB) EntityByPermalink(projectID int64, slug string) (*models.Entity, error) {
	return entityByPermalink(db.conn, projectID, slug)
}

// EntitiesByTitle returns case-insensitive title matches, earliest first.
func (db *DB) EntitiesByTitle(projectID int64, title string) ([]models.Entity, error) {
	return entitiesByTitle(db.conn, projectID, title)
}

// EntityChecksum returns the stored checksum for a file path, or "" when the
// path is not in the graph.
func (db *DB) EntityChecksum(projectID int64, path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`
		SELECT checksum FROM entities WHERE project_id = ? AND file_path = ?
	`, projectID, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("graph: entity checksum: %w", err)
	}
	return cs, nil
}

// AllEntities returns every entity in a project ordered by file path. Used
// by the search-index rebuild and by full reconciliation passes.
func (db *DB) AllEntities(projectID int64) ([]models.Entity, error) {
	rows, err := db.conn.Query(`
		SELECT `+entityCols+` FROM entities WHERE project_id = ? ORDER BY file_path
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("graph: all entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// AllChecksums returns file path → checksum for every entity in a project.
func (db *DB) AllChecksums(projectID int64) (map[string]string, error) {
	rows, err := db.conn.Query(`
		SELECT file_path, checksum FROM entities WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("graph: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// EntityDetail loads an entity with its observations and relations attached.
func (db *DB) EntityDetail(id int64) (*models.Entity, error) {
	e, err := entityByID(db.conn, id)
	if err != nil {
		return nil, err
	}
	if e.Observations, err = db.ObservationsForEntity(id); err != nil {
		return nil, err
	}
	if e.Relations, err = db.RelationsForEntity(id); err != nil {
		return nil, err
	}
	return e, nil
}
