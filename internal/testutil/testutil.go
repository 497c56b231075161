// Package testutil provides shared test helpers for setting up document
// roots and graph databases.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// TestDB creates a temporary SQLite graph database that is automatically
// cleaned up.
func TestDB(t *testing.T) *graph.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := graph.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProject registers a project in the given database.
func TestProject(t *testing.T, db *graph.DB, name string) *models.Project {
	t.Helper()
	p, err := db.EnsureProject(name, "/tmp/"+name, true)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// TestLogger returns a quiet logger for tests (errors only, stderr).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestRoot creates a temporary document root with a storage provider.
func TestRoot(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
