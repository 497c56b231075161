package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// ReplaceObservations swaps the entity's observations for the given set.
// Observations are not diffed: each re-parse replaces them wholesale.
func (tx *Tx) ReplaceObservations(entityID int64, obs []models.Observation) error {
	if _, err := tx.tx.Exec(`DELETE FROM observations WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("graph: clear observations: %w", err)
	}
	if len(obs) == 0 {
		return nil
	}
	stmt, err := tx.tx.Prepare(`
		INSERT INTO observations (entity_id, category, content, tags, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("graph: prepare observation insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, o := range obs {
		tagsJSON, _ := json.Marshal(nonNil(o.Tags))
		if _, err := stmt.Exec(entityID, o.Category, o.Content, string(tagsJSON), o.Context, now); err != nil {
			return fmt.Errorf("graph: insert observation: %w", err)
		}
	}
	return nil
}

// ObservationsForEntity returns the entity's observations in insertion order.
func (db *DB) ObservationsForEntity(entityID int64) ([]models.Observation, error) {
	return observationsForEntity(db.conn, entityID)
}

// ObservationsForEntity is the transaction-scoped variant.
func (tx *Tx) ObservationsForEntity(entityID int64) ([]models.Observation, error) {
	return observationsForEntity(tx.tx, entityID)
}

func observationsForEntity(q querier, entityID int64) ([]models.Observation, error) {
	rows, err := q.Query(`
		SELECT id, entity_id, category, content, tags, context, created_at
		FROM observations WHERE entity_id = ? ORDER BY id
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("graph: observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var tagsJSON string
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Category, &o.Content, &tagsJSON, &o.Context, &o.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &o.Tags)
		out = append(out, o)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
