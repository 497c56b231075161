// Package resolver resolves relation targets against the graph store,
// including deferred resolution of forward references.
//
// Resolution never fails with an error result: a relation that matches no
// entity simply stays a forward reference until a matching entity appears.
// Both directions are idempotent and run inside the caller's graph
// transaction so no half-resolved state is ever visible.
package resolver

import (
	"errors"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/permalink"
)

// ResolveOutgoing attempts to resolve every unresolved outgoing relation of
// the given entity. Matching order: exact case-insensitive title, then exact
// permalink of the slugified target name. Ties prefer the earliest-created
// entity. Returns the number of relations resolved.
func ResolveOutgoing(tx *graph.Tx, projectID, entityID int64) (int, error) {
	rels, err := tx.OutgoingUnresolved(entityID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rel := range rels {
		target, err := findTarget(tx, projectID, rel.ToName)
		if err != nil {
			return resolved, err
		}
		if target == nil {
			continue // stays a forward reference
		}
		if err := tx.ResolveRelation(rel.ID, target.ID); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// ResolveIncoming scans the project's forward references for ones whose
// target name matches the given entity (by title or by slugified permalink)
// and resolves them in place. Called when an entity is created or renamed;
// the source documents are not touched. Returns the number resolved.
func ResolveIncoming(tx *graph.Tx, e *models.Entity) (int, error) {
	rels, err := tx.UnresolvedRelations(e.ProjectID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rel := range rels {
		if rel.FromID == e.ID {
			continue // outgoing pass owns this entity's own relations
		}
		if !matches(rel.ToName, e) {
			continue
		}
		// The new entity only wins if no earlier-created entity already
		// matches; findTarget applies the same tie-break as outgoing
		// resolution so both directions agree.
		target, err := findTarget(tx, e.ProjectID, rel.ToName)
		if err != nil {
			return resolved, err
		}
		if target == nil {
			continue
		}
		if err := tx.ResolveRelation(rel.ID, target.ID); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// ResolvePending sweeps all forward references in a project and resolves
// those that now have a matching entity. Returns the number resolved.
func ResolvePending(db *graph.DB, projectID int64) (int, error) {
	resolved := 0
	err := db.WithTx(func(tx *graph.Tx) error {
		rels, err := tx.UnresolvedRelations(projectID)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			target, err := findTarget(tx, projectID, rel.ToName)
			if err != nil {
				return err
			}
			if target == nil {
				continue
			}
			if err := tx.ResolveRelation(rel.ID, target.ID); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return resolved, nil
}

// findTarget returns the entity a target name resolves to, or nil when the
// name matches nothing (a normal outcome, not an error).
func findTarget(tx *graph.Tx, projectID int64, name string) (*models.Entity, error) {
	byTitle, err := tx.EntitiesByTitle(projectID, name)
	if err != nil {
		return nil, err
	}
	if len(byTitle) > 0 {
		return &byTitle[0], nil // earliest created wins
	}

	byPermalink, err := tx.EntityByPermalink(projectID, permalink.Generate(name))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return byPermalink, nil
}

func matches(toName string, e *models.Entity) bool {
	if strings.EqualFold(toName, e.Title) {
		return true
	}
	return permalink.Generate(toName) == e.Permalink
}
