package sync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

type syncEnv struct {
	root    string
	store   *storage.FS
	db      *graph.DB
	project *models.Project
	svc     *Service

	mu     gosync.Mutex
	events []string
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()
	env := &syncEnv{}
	env.root, env.store = testutil.TestRoot(t)
	env.db = testutil.TestDB(t)
	env.project = testutil.TestProject(t, env.db, "main")

	logger := testutil.TestLogger()
	detector := checksum.NewDetector(500 * time.Millisecond)
	env.svc = NewService(env.db, env.store, env.project, detector, logger, Options{}, func(kind, path string) {
		env.mu.Lock()
		env.events = append(env.events, kind+":"+path)
		env.mu.Unlock()
	})
	return env
}

func (e *syncEnv) write(t *testing.T, path, content string) {
	t.Helper()
	if err := e.store.Write(path, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (e *syncEnv) eventList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func TestSyncDocumentCreates(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "coffee.md", `---
title: Coffee Brewing
tags: [coffee]
---

# Coffee Brewing

- [method] Pour over #technique
- requires [[Coffee Grinder]]
`)

	e, err := env.svc.SyncDocument(context.Background(), "coffee.md")
	if err != nil {
		t.Fatalf("SyncDocument: %v", err)
	}
	if e.Title != "Coffee Brewing" || e.Permalink != "coffee-brewing" {
		t.Errorf("entity = %+v", e)
	}

	obs, err := env.db.ObservationsForEntity(e.ID)
	if err != nil || len(obs) != 1 {
		t.Fatalf("observations = %+v, %v", obs, err)
	}
	rels, err := env.db.RelationsForEntity(e.ID)
	if err != nil || len(rels) != 1 {
		t.Fatalf("relations = %+v, %v", rels, err)
	}
	if rels[0].Resolved() {
		t.Error("relation to a missing target should be a forward reference")
	}

	results, err := env.db.Search(env.project.ID, "pour", graph.SearchFilters{})
	if err != nil || len(results) != 1 {
		t.Errorf("search results = %+v, %v", results, err)
	}

	events := env.eventList()
	if len(events) != 1 || events[0] != "created:coffee.md" {
		t.Errorf("events = %v", events)
	}
}

func TestSyncDocumentIdempotent(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nbody\n")

	first, err := env.svc.SyncDocument(context.Background(), "a.md")
	if err != nil {
		t.Fatalf("SyncDocument: %v", err)
	}

	// Unchanged content: zero writes, no event.
	second, err := env.svc.SyncDocument(context.Background(), "a.md")
	if err != nil {
		t.Fatalf("SyncDocument again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id changed: %d vs %d", second.ID, first.ID)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("UpdatedAt changed on a no-op sync")
	}
	if events := env.eventList(); len(events) != 1 {
		t.Errorf("events = %v, want just the create", events)
	}
}

func TestSyncDocumentTitleFallsBackToFilename(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/untitled-thing.md", "no heading here\n")

	e, err := env.svc.SyncDocument(context.Background(), "notes/untitled-thing.md")
	if err != nil {
		t.Fatalf("SyncDocument: %v", err)
	}
	if e.Title != "untitled-thing" {
		t.Errorf("Title = %q, want filename stem", e.Title)
	}
}

func TestForwardReferenceResolvesOnTargetCreate(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "source.md", "# Source\n\n- references [[Future Note]]\n")

	src, err := env.svc.SyncDocument(context.Background(), "source.md")
	if err != nil {
		t.Fatalf("sync source: %v", err)
	}

	env.write(t, "future.md", "# Future Note\n")
	target, err := env.svc.SyncDocument(context.Background(), "future.md")
	if err != nil {
		t.Fatalf("sync target: %v", err)
	}

	rels, err := env.db.RelationsForEntity(src.ID)
	if err != nil || len(rels) != 1 {
		t.Fatalf("relations = %+v, %v", rels, err)
	}
	if !rels[0].Resolved() || *rels[0].ToID != target.ID {
		t.Errorf("forward reference not resolved on create: %+v", rels[0])
	}
}

func TestSyncDocumentDuplicateRelationLines(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\n- links [[Target]]\n- links [[Target]]\n")

	e, err := env.svc.SyncDocument(context.Background(), "a.md")
	if err != nil {
		t.Fatalf("SyncDocument with duplicate relation lines: %v", err)
	}
	rels, err := env.db.RelationsForEntity(e.ID)
	if err != nil {
		t.Fatalf("RelationsForEntity: %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("got %d relations, want 1: %+v", len(rels), rels)
	}
}

func TestIncomingResolvesOnTitleChange(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "source.md", "# Source\n\n- implements [[Design Doc]]\n")
	env.write(t, "b.md", "# Other\n")

	src, err := env.svc.SyncDocument(context.Background(), "source.md")
	if err != nil {
		t.Fatalf("sync source: %v", err)
	}
	other, err := env.svc.SyncDocument(context.Background(), "b.md")
	if err != nil {
		t.Fatalf("sync b: %v", err)
	}

	rels, _ := env.db.RelationsForEntity(src.ID)
	if rels[0].Resolved() {
		t.Fatal("precondition: relation should be a forward reference")
	}

	// Retitling the existing document to match the pending reference must
	// resolve it on this sync, not only on a full-project sweep.
	env.write(t, "b.md", "# Design Doc\n")
	if _, err := env.svc.SyncDocument(context.Background(), "b.md"); err != nil {
		t.Fatalf("re-sync b: %v", err)
	}

	rels, err = env.db.RelationsForEntity(src.ID)
	if err != nil || len(rels) != 1 {
		t.Fatalf("relations = %+v, %v", rels, err)
	}
	if !rels[0].Resolved() || *rels[0].ToID != other.ID {
		t.Errorf("forward reference not resolved on title change: %+v", rels[0])
	}
}

func TestDeleteDocumentRevertsIncoming(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "target.md", "# Target\n")
	env.write(t, "source.md", "# Source\n\n- links [[Target]]\n")

	tgt, _ := env.svc.SyncDocument(context.Background(), "target.md")
	src, _ := env.svc.SyncDocument(context.Background(), "source.md")

	rels, _ := env.db.RelationsForEntity(src.ID)
	if !rels[0].Resolved() {
		t.Fatal("precondition: relation should be resolved")
	}

	if err := env.svc.DeleteDocument("target.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := env.db.EntityByID(tgt.ID); err == nil {
		t.Error("target entity survived delete")
	}
	rels, _ = env.db.RelationsForEntity(src.ID)
	if rels[0].Resolved() || rels[0].ToName != "Target" {
		t.Errorf("incoming relation after delete = %+v", rels[0])
	}
}

func TestSyncProjectFullPass(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n")
	env.write(t, "b.md", "# B\n")

	report, err := env.svc.SyncProject(context.Background())
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if report.Created != 2 {
		t.Errorf("Created = %d, want 2", report.Created)
	}

	// Modify one, remove one, add one.
	env.write(t, "a.md", "# A\n\nchanged\n")
	if err := env.store.Delete("b.md"); err != nil {
		t.Fatal(err)
	}
	env.write(t, "c.md", "# C\n")

	report, err = env.svc.SyncProject(context.Background())
	if err != nil {
		t.Fatalf("SyncProject second pass: %v", err)
	}
	if report.Updated != 1 || report.Deleted != 1 || report.Created != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestSyncProjectDetectsRename(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "old.md", "# Stable\n\nsame content\n")

	before, err := env.svc.SyncDocument(context.Background(), "old.md")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := os.Rename(filepath.Join(env.root, "old.md"), filepath.Join(env.root, "renamed.md")); err != nil {
		t.Fatal(err)
	}

	report, err := env.svc.SyncProject(context.Background())
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if report.Renamed != 1 || report.Created != 0 || report.Deleted != 0 {
		t.Errorf("report = %+v, want one rename", report)
	}

	after, err := env.db.EntityByPath(env.project.ID, "renamed.md")
	if err != nil {
		t.Fatalf("EntityByPath: %v", err)
	}
	if after.ID != before.ID || after.Permalink != before.Permalink {
		t.Errorf("identity not stable across rename: %+v vs %+v", after, before)
	}
}

func TestSyncProjectRecordsParseErrors(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "ok.md", "# OK\n")
	env.write(t, "bad.md", "---\ntitle: [unclosed\n---\nbody\n")

	report, err := env.svc.SyncProject(context.Background())
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if report.Created != 1 {
		t.Errorf("Created = %d, want 1", report.Created)
	}
	if len(report.Errors) != 1 || report.Errors[0].Path != "bad.md" {
		t.Errorf("Errors = %+v", report.Errors)
	}
}

func TestProcessWritePairsRename(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "old.md", "# Stable\n\nsame content\n")

	if err := env.svc.ProcessWrite(context.Background(), "old.md"); err != nil {
		t.Fatalf("ProcessWrite: %v", err)
	}
	before, _ := env.db.EntityByPath(env.project.ID, "old.md")

	// Simulate the watcher's remove-then-create sequence of a rename.
	if err := os.Rename(filepath.Join(env.root, "old.md"), filepath.Join(env.root, "new.md")); err != nil {
		t.Fatal(err)
	}
	if c := env.svc.Detector().OnRemove("old.md"); c == nil {
		t.Fatal("OnRemove returned nil for a known path")
	}
	if err := env.svc.ProcessWrite(context.Background(), "new.md"); err != nil {
		t.Fatalf("ProcessWrite after rename: %v", err)
	}

	after, err := env.db.EntityByPath(env.project.ID, "new.md")
	if err != nil {
		t.Fatalf("EntityByPath: %v", err)
	}
	if after.ID != before.ID {
		t.Errorf("rename did not preserve identity: %d vs %d", after.ID, before.ID)
	}
	if env.svc.Detector().TakeRemoval("old.md") {
		t.Error("removal should have been claimed by the rename")
	}
}
