package graph

import (
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// SearchResult is one search hit.
type SearchResult struct {
	EntityID  int64  `json:"entity_id"`
	ProjectID int64  `json:"project_id"`
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	Snippet   string `json:"snippet"`
}

// SearchFilters narrows a search. Zero values mean no filtering.
type SearchFilters struct {
	EntityType string
	Limit      int
}

// IndexEntity writes the entity's derived search projection: title and
// permalink variants, description text, all observation contents, and all
// frontmatter and observation tags. It runs inside the same transaction as
// the graph mutation that triggered it, so the index can never reference a
// stale entity.
func (tx *Tx) IndexEntity(e *models.Entity, obs []models.Observation) error {
	tags := collectTags(e.Tags, obs)
	var body strings.Builder
	body.WriteString(e.Description)
	for _, o := range obs {
		body.WriteString("\n")
		body.WriteString(o.Content)
		for _, t := range o.Tags {
			body.WriteString(" ")
			body.WriteString(t)
		}
	}

	_, err := tx.tx.Exec(`
		INSERT INTO search_index (entity_id, project_id, title, permalink, body, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			project_id = excluded.project_id,
			title      = excluded.title,
			permalink  = excluded.permalink,
			body       = excluded.body,
			tags       = excluded.tags
	`, e.ID, e.ProjectID, e.Title, permalinkVariants(e.Permalink), body.String(), strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("graph: index entity: %w", err)
	}
	return tx.ftsUpsert(e, body.String(), tags)
}

// searchDelete removes the entity's search projection (plain and FTS rows).
func (tx *Tx) searchDelete(entityID int64) error {
	if _, err := tx.tx.Exec(`DELETE FROM search_index WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("graph: delete search row: %w", err)
	}
	tx.ftsDelete(entityID)
	return nil
}

// RebuildSearchIndex drops a project's search projection and reconstructs it
// from the graph alone. This is the recovery path after index corruption.
func (db *DB) RebuildSearchIndex(projectID int64) error {
	entities, err := db.AllEntities(projectID)
	if err != nil {
		return err
	}
	return db.WithTx(func(tx *Tx) error {
		if _, err := tx.tx.Exec(`DELETE FROM search_index WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("graph: clear search index: %w", err)
		}
		tx.ftsClearProject(projectID)
		for i := range entities {
			e := &entities[i]
			obs, err := observationsForEntity(tx.tx, e.ID)
			if err != nil {
				return err
			}
			if err := tx.IndexEntity(e, obs); err != nil {
				return err
			}
		}
		return nil
	})
}

// permalinkVariants returns searchable forms of a slug: the slug itself plus
// its hyphen-split words.
func permalinkVariants(slug string) string {
	if slug == "" {
		return ""
	}
	return slug + " " + strings.ReplaceAll(slug, "-", " ")
}

func collectTags(entityTags []string, obs []models.Observation) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range entityTags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, o := range obs {
		for _, t := range o.Tags {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
