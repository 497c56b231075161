package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// EnsureProject creates the named project if it does not exist and returns
// it. Root and the default flag are updated in place on re-registration so
// config changes take effect across restarts.
func (db *DB) EnsureProject(name, root string, isDefault bool) (*models.Project, error) {
	now := time.Now().UTC()
	_, err := db.conn.Exec(`
		INSERT INTO projects (name, root, is_default, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			root       = excluded.root,
			is_default = excluded.is_default
	`, name, root, boolToInt(isDefault), now)
	if err != nil {
		return nil, fmt.Errorf("graph: ensure project: %w", err)
	}
	return db.ProjectByName(name)
}

// ProjectByName returns the project with the given name.
func (db *DB) ProjectByName(name string) (*models.Project, error) {
	return scanProject(db.conn.QueryRow(`
		SELECT id, name, root, is_default, created_at FROM projects WHERE name = ?
	`, name))
}

// ProjectByID returns the project with the given id.
func (db *DB) ProjectByID(id int64) (*models.Project, error) {
	return scanProject(db.conn.QueryRow(`
		SELECT id, name, root, is_default, created_at FROM projects WHERE id = ?
	`, id))
}

// DefaultProject returns the project flagged as default, or ErrNotFound.
func (db *DB) DefaultProject() (*models.Project, error) {
	return scanProject(db.conn.QueryRow(`
		SELECT id, name, root, is_default, created_at FROM projects
		WHERE is_default = 1 ORDER BY id LIMIT 1
	`))
}

// ListProjects returns all registered projects.
func (db *DB) ListProjects() ([]models.Project, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, root, is_default, created_at FROM projects ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("graph: list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		var def int
		if err := rows.Scan(&p.ID, &p.Name, &p.Root, &def, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.IsDefault = def != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var def int
	err := row.Scan(&p.ID, &p.Name, &p.Root, &def, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: scan project: %w", err)
	}
	p.IsDefault = def != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
