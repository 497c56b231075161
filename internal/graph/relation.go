package graph

import (
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/models"
)

const relationCols = `id, from_id, to_id, to_name, relation_type, context, created_at`

// ReplaceRelations reconciles the entity's outgoing relations with the given
// set, keyed by (to_name, relation_type). Unchanged relations keep their row
// (and any resolved to_id); removed ones are deleted; new ones are inserted
// unresolved, for the resolver to fill in within the same transaction.
func (tx *Tx) ReplaceRelations(entityID int64, rels []models.Relation) error {
	existing, err := relationsForEntity(tx.tx, entityID)
	if err != nil {
		return err
	}

	type key struct{ name, typ string }
	current := make(map[key]models.Relation, len(existing))
	for _, r := range existing {
		current[key{r.ToName, r.Type}] = r
	}
	wanted := make(map[key]models.Relation, len(rels))
	for _, r := range rels {
		wanted[key{r.ToName, r.Type}] = r
	}

	for k, r := range current {
		if _, keep := wanted[k]; !keep {
			if _, err := tx.tx.Exec(`DELETE FROM relations WHERE id = ?`, r.ID); err != nil {
				return fmt.Errorf("graph: delete relation: %w", err)
			}
		}
	}

	// Insert from the deduped set: a document repeating the same relation
	// line collapses to one row under the uniqueness key.
	now := time.Now().UTC()
	inserted := make(map[key]bool, len(rels))
	for _, r := range rels {
		k := key{r.ToName, r.Type}
		if inserted[k] {
			continue
		}
		inserted[k] = true
		if prev, ok := current[k]; ok {
			if prev.Context != r.Context {
				if _, err := tx.tx.Exec(`UPDATE relations SET context = ? WHERE id = ?`, r.Context, prev.ID); err != nil {
					return fmt.Errorf("graph: update relation: %w", err)
				}
			}
			continue
		}
		if _, err := tx.tx.Exec(`
			INSERT INTO relations (from_id, to_id, to_name, relation_type, context, created_at)
			VALUES (?, NULL, ?, ?, ?, ?)
		`, entityID, r.ToName, r.Type, r.Context, now); err != nil {
			return fmt.Errorf("graph: insert relation: %w", err)
		}
	}
	return nil
}

// ResolveRelation sets the relation's target entity. The literal target name
// is left in place as an audit trail.
func (tx *Tx) ResolveRelation(relationID, toID int64) error {
	if _, err := tx.tx.Exec(`UPDATE relations SET to_id = ? WHERE id = ?`, toID, relationID); err != nil {
		return fmt.Errorf("graph: resolve relation: %w", err)
	}
	return nil
}

// OutgoingUnresolved returns the entity's relations that still lack a target.
func (tx *Tx) OutgoingUnresolved(entityID int64) ([]models.Relation, error) {
	return queryRelations(tx.tx, `
		SELECT `+relationCols+` FROM relations
		WHERE from_id = ? AND to_id IS NULL ORDER BY id
	`, entityID)
}

// UnresolvedByName returns every unresolved relation in the project whose
// literal target name matches (case-insensitively) the given name.
func (tx *Tx) UnresolvedByName(projectID int64, name string) ([]models.Relation, error) {
	return queryRelations(tx.tx, `
		SELECT r.id, r.from_id, r.to_id, r.to_name, r.relation_type, r.context, r.created_at
		FROM relations r
		JOIN entities e ON e.id = r.from_id
		WHERE e.project_id = ? AND r.to_id IS NULL AND r.to_name = ? COLLATE NOCASE
		ORDER BY r.id
	`, projectID, name)
}

// UnresolvedRelations returns every forward reference in the project.
func (db *DB) UnresolvedRelations(projectID int64) ([]models.Relation, error) {
	return queryRelations(db.conn, `
		SELECT r.id, r.from_id, r.to_id, r.to_name, r.relation_type, r.context, r.created_at
		FROM relations r
		JOIN entities e ON e.id = r.from_id
		WHERE e.project_id = ? AND r.to_id IS NULL
		ORDER BY r.id
	`, projectID)
}

// UnresolvedRelations is the transaction-scoped variant.
func (tx *Tx) UnresolvedRelations(projectID int64) ([]models.Relation, error) {
	return queryRelations(tx.tx, `
		SELECT r.id, r.from_id, r.to_id, r.to_name, r.relation_type, r.context, r.created_at
		FROM relations r
		JOIN entities e ON e.id = r.from_id
		WHERE e.project_id = ? AND r.to_id IS NULL
		ORDER BY r.id
	`, projectID)
}

// RelationsForEntity returns the entity's outgoing relations.
func (db *DB) RelationsForEntity(entityID int64) ([]models.Relation, error) {
	return relationsForEntity(db.conn, entityID)
}

// IncomingRelations returns relations from other entities that resolve to
// this entity.
func (db *DB) IncomingRelations(entityID int64) ([]models.Relation, error) {
	return queryRelations(db.conn, `
		SELECT `+relationCols+` FROM relations WHERE to_id = ? ORDER BY id
	`, entityID)
}

// ProjectRelations returns every relation in a project, resolved and
// unresolved alike, ordered by source entity. Used for graph exports.
func (db *DB) ProjectRelations(projectID int64) ([]models.Relation, error) {
	return queryRelations(db.conn, `
		SELECT r.id, r.from_id, r.to_id, r.to_name, r.relation_type, r.context, r.created_at
		FROM relations r
		JOIN entities e ON e.id = r.from_id
		WHERE e.project_id = ?
		ORDER BY r.from_id, r.id
	`, projectID)
}

func relationsForEntity(q querier, entityID int64) ([]models.Relation, error) {
	return queryRelations(q, `
		SELECT `+relationCols+` FROM relations WHERE from_id = ? ORDER BY id
	`, entityID)
}

func queryRelations(q querier, query string, args ...any) ([]models.Relation, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query relations: %w", err)
	}
	defer rows.Close()

	var out []models.Relation
	for rows.Next() {
		var r models.Relation
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.ToName, &r.Type, &r.Context, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
