package graph

import (
	"errors"
	"os"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testProject(t *testing.T, db *DB) *models.Project {
	t.Helper()
	p, err := db.EnsureProject("main", "/tmp/main", true)
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	return p
}

func upsert(t *testing.T, db *DB, e *models.Entity) bool {
	t.Helper()
	var created bool
	err := db.WithTx(func(tx *Tx) error {
		var err error
		created, err = tx.UpsertEntity(e)
		return err
	})
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	return created
}

func TestOpenWithDSNParams(t *testing.T) {
	f, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	// A DSN already carrying query parameters must still get the pragmas.
	db, err := Open(f.Name() + "?cache=shared")
	if err != nil {
		t.Fatalf("Open with params: %v", err)
	}
	defer db.Close()

	if _, err := db.EnsureProject("main", "/tmp/main", true); err != nil {
		t.Errorf("EnsureProject: %v", err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"projects", "entities", "observations", "relations", "search_index"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestEnsureProjectIdempotent(t *testing.T) {
	db := testDB(t)
	p1, err := db.EnsureProject("main", "/tmp/a", true)
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	p2, err := db.EnsureProject("main", "/tmp/b", true)
	if err != nil {
		t.Fatalf("EnsureProject again: %v", err)
	}
	if p1.ID != p2.ID {
		t.Errorf("project id changed: %d vs %d", p1.ID, p2.ID)
	}
	if p2.Root != "/tmp/b" {
		t.Errorf("root not updated: %q", p2.Root)
	}
}

func TestUpsertEntityCreateAndUpdate(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)

	e := &models.Entity{
		ProjectID: p.ID,
		Title:     "Coffee Brewing",
		FilePath:  "notes/coffee.md",
		Checksum:  "cs1",
		Tags:      []string{"coffee"},
	}
	if created := upsert(t, db, e); !created {
		t.Error("first upsert should report created")
	}
	if e.ID == 0 {
		t.Fatal("ID not filled in")
	}
	if e.Permalink != "coffee-brewing" {
		t.Errorf("Permalink = %q", e.Permalink)
	}

	// Same path again: update, id and permalink stable.
	e2 := &models.Entity{
		ProjectID: p.ID,
		Title:     "Coffee Brewing v2",
		FilePath:  "notes/coffee.md",
		Checksum:  "cs2",
	}
	if created := upsert(t, db, e2); created {
		t.Error("second upsert should report updated")
	}
	if e2.ID != e.ID {
		t.Errorf("id changed on update: %d vs %d", e2.ID, e.ID)
	}
	if e2.Permalink != "coffee-brewing" {
		t.Errorf("permalink changed on update: %q", e2.Permalink)
	}

	got, err := db.EntityByPath(p.ID, "notes/coffee.md")
	if err != nil {
		t.Fatalf("EntityByPath: %v", err)
	}
	if got.Title != "Coffee Brewing v2" || got.Checksum != "cs2" {
		t.Errorf("stored entity = %+v", got)
	}
}

func TestPermalinkDisambiguation(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)

	a := &models.Entity{ProjectID: p.ID, Title: "Coffee", FilePath: "a.md"}
	b := &models.Entity{ProjectID: p.ID, Title: "Coffee", FilePath: "b.md"}
	c := &models.Entity{ProjectID: p.ID, Title: "Coffee", FilePath: "c.md"}
	upsert(t, db, a)
	upsert(t, db, b)
	upsert(t, db, c)

	if a.Permalink != "coffee" {
		t.Errorf("first permalink = %q, want coffee", a.Permalink)
	}
	if b.Permalink != "coffee-2" {
		t.Errorf("second permalink = %q, want coffee-2", b.Permalink)
	}
	if c.Permalink != "coffee-3" {
		t.Errorf("third permalink = %q, want coffee-3", c.Permalink)
	}
}

func TestPinnedPermalink(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)

	e := &models.Entity{ProjectID: p.ID, Title: "Anything", Permalink: "pinned-slug", FilePath: "a.md"}
	upsert(t, db, e)
	if e.Permalink != "pinned-slug" {
		t.Errorf("Permalink = %q, want pinned-slug", e.Permalink)
	}

	// Update without a pin keeps the existing permalink.
	e2 := &models.Entity{ProjectID: p.ID, Title: "Renamed Title", FilePath: "a.md"}
	upsert(t, db, e2)
	if e2.Permalink != "pinned-slug" {
		t.Errorf("Permalink after update = %q, want pinned-slug", e2.Permalink)
	}
}

func TestReplaceObservations(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	e := &models.Entity{ProjectID: p.ID, Title: "T", FilePath: "t.md"}
	upsert(t, db, e)

	err := db.WithTx(func(tx *Tx) error {
		return tx.ReplaceObservations(e.ID, []models.Observation{
			{Category: "fact", Content: "one", Tags: []string{"a"}},
			{Category: "fact", Content: "two"},
		})
	})
	if err != nil {
		t.Fatalf("ReplaceObservations: %v", err)
	}

	err = db.WithTx(func(tx *Tx) error {
		return tx.ReplaceObservations(e.ID, []models.Observation{
			{Category: "idea", Content: "three", Context: "ctx"},
		})
	})
	if err != nil {
		t.Fatalf("ReplaceObservations again: %v", err)
	}

	obs, err := db.ObservationsForEntity(e.ID)
	if err != nil {
		t.Fatalf("ObservationsForEntity: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("got %d observations, want 1", len(obs))
	}
	if obs[0].Category != "idea" || obs[0].Content != "three" || obs[0].Context != "ctx" {
		t.Errorf("observation = %+v", obs[0])
	}
}

func TestReplaceRelationsDiff(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	from := &models.Entity{ProjectID: p.ID, Title: "From", FilePath: "from.md"}
	target := &models.Entity{ProjectID: p.ID, Title: "Target", FilePath: "target.md"}
	upsert(t, db, from)
	upsert(t, db, target)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.ReplaceRelations(from.ID, []models.Relation{
			{ToName: "Target", Type: "requires"},
			{ToName: "Missing", Type: "relates_to"},
		}); err != nil {
			return err
		}
		rels, err := tx.OutgoingUnresolved(from.ID)
		if err != nil {
			return err
		}
		for _, r := range rels {
			if r.ToName == "Target" {
				if err := tx.ResolveRelation(r.ID, target.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Re-sync with the same Target relation plus a new one: the resolved
	// row must survive, the removed one must go.
	err = db.WithTx(func(tx *Tx) error {
		return tx.ReplaceRelations(from.ID, []models.Relation{
			{ToName: "Target", Type: "requires", Context: "updated"},
			{ToName: "Another", Type: "requires"},
		})
	})
	if err != nil {
		t.Fatalf("ReplaceRelations: %v", err)
	}

	rels, err := db.RelationsForEntity(from.ID)
	if err != nil {
		t.Fatalf("RelationsForEntity: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("got %d relations, want 2: %+v", len(rels), rels)
	}
	byName := make(map[string]models.Relation)
	for _, r := range rels {
		byName[r.ToName] = r
	}
	kept := byName["Target"]
	if !kept.Resolved() || *kept.ToID != target.ID {
		t.Errorf("resolved relation lost its target: %+v", kept)
	}
	if kept.Context != "updated" {
		t.Errorf("context not updated: %q", kept.Context)
	}
	if byName["Another"].Resolved() {
		t.Error("new relation should start unresolved")
	}
	if _, gone := byName["Missing"]; gone {
		t.Error("removed relation still present")
	}
}

func TestReplaceRelationsCollapsesDuplicates(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	from := &models.Entity{ProjectID: p.ID, Title: "From", FilePath: "from.md"}
	upsert(t, db, from)

	err := db.WithTx(func(tx *Tx) error {
		return tx.ReplaceRelations(from.ID, []models.Relation{
			{ToName: "Target", Type: "requires"},
			{ToName: "Target", Type: "requires"},
			{ToName: "Target", Type: "relates_to"},
		})
	})
	if err != nil {
		t.Fatalf("ReplaceRelations with duplicates: %v", err)
	}

	rels, err := db.RelationsForEntity(from.ID)
	if err != nil {
		t.Fatalf("RelationsForEntity: %v", err)
	}
	if len(rels) != 2 {
		t.Errorf("got %d relations, want 2 (duplicates collapsed): %+v", len(rels), rels)
	}
}

func TestDeleteEntityCascades(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	target := &models.Entity{ProjectID: p.ID, Title: "Target", FilePath: "target.md"}
	source := &models.Entity{ProjectID: p.ID, Title: "Source", FilePath: "source.md"}
	upsert(t, db, target)
	upsert(t, db, source)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.ReplaceObservations(target.ID, []models.Observation{{Category: "x", Content: "y"}}); err != nil {
			return err
		}
		if err := tx.ReplaceRelations(source.ID, []models.Relation{{ToName: "Target", Type: "requires"}}); err != nil {
			return err
		}
		rels, err := tx.OutgoingUnresolved(source.ID)
		if err != nil {
			return err
		}
		if err := tx.ResolveRelation(rels[0].ID, target.ID); err != nil {
			return err
		}
		return tx.IndexEntity(target, nil)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = db.WithTx(func(tx *Tx) error { return tx.DeleteEntity(target.ID) })
	if err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	if _, err := db.EntityByID(target.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("entity still present: %v", err)
	}
	obs, _ := db.ObservationsForEntity(target.ID)
	if len(obs) != 0 {
		t.Errorf("observations survived delete: %+v", obs)
	}

	// The incoming relation reverts to a forward reference keeping to_name.
	rels, err := db.RelationsForEntity(source.ID)
	if err != nil {
		t.Fatalf("RelationsForEntity: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d relations, want 1", len(rels))
	}
	if rels[0].Resolved() {
		t.Error("incoming relation should be unresolved after target delete")
	}
	if rels[0].ToName != "Target" {
		t.Errorf("to_name lost: %q", rels[0].ToName)
	}

	var count int
	_ = db.conn.QueryRow(`SELECT count(*) FROM search_index WHERE entity_id = ?`, target.ID).Scan(&count)
	if count != 0 {
		t.Error("search row survived delete")
	}
}

func TestMoveEntityKeepsPermalink(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	e := &models.Entity{ProjectID: p.ID, Title: "Stable", FilePath: "old.md"}
	upsert(t, db, e)

	var moved *models.Entity
	err := db.WithTx(func(tx *Tx) error {
		var err error
		moved, err = tx.MoveEntity(e.ID, "new/dir/stable.md", false)
		return err
	})
	if err != nil {
		t.Fatalf("MoveEntity: %v", err)
	}
	if moved.ID != e.ID || moved.Permalink != e.Permalink {
		t.Errorf("identity not stable across move: %+v", moved)
	}
	if moved.FilePath != "new/dir/stable.md" {
		t.Errorf("FilePath = %q", moved.FilePath)
	}
}

func TestSearchLike(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	e := &models.Entity{ProjectID: p.ID, Title: "Coffee Brewing", EntityType: "guide", FilePath: "c.md", Tags: []string{"coffee"}}
	upsert(t, db, e)

	obs := []models.Observation{{Category: "method", Content: "pour over extraction", Tags: []string{"technique"}}}
	err := db.WithTx(func(tx *Tx) error { return tx.IndexEntity(e, obs) })
	if err != nil {
		t.Fatalf("IndexEntity: %v", err)
	}

	results, err := db.Search(p.ID, "extraction", SearchFilters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].EntityID != e.ID {
		t.Fatalf("results = %+v", results)
	}

	// Entity type filter.
	results, err = db.Search(p.ID, "extraction", SearchFilters{EntityType: "person"})
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("type filter ignored: %+v", results)
	}
}

func TestSearchProjectScoped(t *testing.T) {
	db := testDB(t)
	p1, _ := db.EnsureProject("one", "/tmp/one", true)
	p2, _ := db.EnsureProject("two", "/tmp/two", false)

	e := &models.Entity{ProjectID: p1.ID, Title: "Shared Term", FilePath: "a.md"}
	upsert(t, db, e)
	_ = db.WithTx(func(tx *Tx) error { return tx.IndexEntity(e, nil) })

	results, err := db.Search(p2.ID, "Shared", SearchFilters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("cross-project leak: %+v", results)
	}
}

func TestRebuildSearchIndex(t *testing.T) {
	db := testDB(t)
	p := testProject(t, db)
	e := &models.Entity{ProjectID: p.ID, Title: "Rebuildable", FilePath: "r.md", Tags: []string{"keep"}}
	upsert(t, db, e)
	err := db.WithTx(func(tx *Tx) error {
		if err := tx.ReplaceObservations(e.ID, []models.Observation{{Category: "x", Content: "indexed text"}}); err != nil {
			return err
		}
		return tx.IndexEntity(e, []models.Observation{{Category: "x", Content: "indexed text"}})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Corrupt the projection, then rebuild from the graph alone.
	if _, err := db.conn.Exec(`DELETE FROM search_index`); err != nil {
		t.Fatal(err)
	}
	if err := db.RebuildSearchIndex(p.ID); err != nil {
		t.Fatalf("RebuildSearchIndex: %v", err)
	}

	results, err := db.Search(p.ID, "indexed", SearchFilters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results after rebuild = %+v", results)
	}
	// Frontmatter tags survive the rebuild via the entities.tags column.
	results, err = db.Search(p.ID, "keep", SearchFilters{})
	if err != nil {
		t.Fatalf("Search tags: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("tag search after rebuild = %+v", results)
	}
}
