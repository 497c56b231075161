package checksum

import (
	"testing"
	"time"

	"github.com/starford/ansuz/internal/models"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	if a != b {
		t.Errorf("same content produced different sums: %q vs %q", a, b)
	}
	if a == Sum([]byte("hello!")) {
		t.Error("different content produced the same sum")
	}
	if len(a) != 64 {
		t.Errorf("sum length = %d, want 64 hex chars", len(a))
	}
}

func TestDetectorOnWrite(t *testing.T) {
	d := NewDetector(time.Second)

	c := d.OnWrite("a.md", "cs1")
	if c == nil || c.Kind != Created {
		t.Fatalf("first write = %+v, want Created", c)
	}

	// Touch without modification is a no-op.
	if c := d.OnWrite("a.md", "cs1"); c != nil {
		t.Errorf("unchanged write = %+v, want nil", c)
	}

	c = d.OnWrite("a.md", "cs2")
	if c == nil || c.Kind != Modified {
		t.Fatalf("changed write = %+v, want Modified", c)
	}
}

func TestDetectorRenamePairing(t *testing.T) {
	d := NewDetector(time.Second)
	d.Seed([]models.FileInfo{{Path: "old.md", Checksum: "cs1"}})

	rm := d.OnRemove("old.md")
	if rm == nil || rm.Kind != Deleted {
		t.Fatalf("remove = %+v, want Deleted", rm)
	}

	c := d.OnWrite("new.md", "cs1")
	if c == nil || c.Kind != Renamed {
		t.Fatalf("paired write = %+v, want Renamed", c)
	}
	if c.OldPath != "old.md" {
		t.Errorf("OldPath = %q, want old.md", c.OldPath)
	}

	// The removal was claimed by the rename.
	if d.TakeRemoval("old.md") {
		t.Error("TakeRemoval should report the removal as already paired")
	}
}

func TestDetectorRemovalOutsideWindow(t *testing.T) {
	d := NewDetector(10 * time.Millisecond)
	d.Seed([]models.FileInfo{{Path: "old.md", Checksum: "cs1"}})
	d.OnRemove("old.md")

	time.Sleep(30 * time.Millisecond)

	c := d.OnWrite("new.md", "cs1")
	if c == nil || c.Kind != Created {
		t.Fatalf("late write = %+v, want Created", c)
	}
	if !d.TakeRemoval("old.md") {
		t.Error("unpaired removal should still be pending")
	}
}

func TestDetectorSameContentDoubleRemove(t *testing.T) {
	d := NewDetector(time.Second)
	d.Seed([]models.FileInfo{
		{Path: "a.md", Checksum: "same"},
		{Path: "b.md", Checksum: "same"},
	})

	d.OnRemove("a.md")
	d.OnRemove("b.md")

	// Both removals stay pending independently; the second must not
	// overwrite the first.
	if !d.TakeRemoval("a.md") {
		t.Error("a.md removal lost")
	}
	if !d.TakeRemoval("b.md") {
		t.Error("b.md removal lost")
	}
}

func TestDetectorRenameClaimsOldestRemoval(t *testing.T) {
	d := NewDetector(time.Second)
	d.Seed([]models.FileInfo{
		{Path: "a.md", Checksum: "same"},
		{Path: "b.md", Checksum: "same"},
	})

	d.OnRemove("a.md")
	d.OnRemove("b.md")

	c := d.OnWrite("c.md", "same")
	if c == nil || c.Kind != Renamed || c.OldPath != "a.md" {
		t.Fatalf("paired write = %+v, want Renamed from a.md", c)
	}
	if d.TakeRemoval("a.md") {
		t.Error("a.md removal should have been claimed by the rename")
	}
	if !d.TakeRemoval("b.md") {
		t.Error("b.md removal should still be pending")
	}
}

func TestDetectorDiff(t *testing.T) {
	d := NewDetector(time.Second)
	d.Seed([]models.FileInfo{
		{Path: "keep.md", Checksum: "k1"},
		{Path: "change.md", Checksum: "c1"},
		{Path: "gone.md", Checksum: "g1"},
		{Path: "moved.md", Checksum: "m1"},
	})

	changes := d.Diff([]models.FileInfo{
		{Path: "keep.md", Checksum: "k1"},
		{Path: "change.md", Checksum: "c2"},
		{Path: "new.md", Checksum: "n1"},
		{Path: "renamed.md", Checksum: "m1"},
	})

	byKind := make(map[ChangeKind][]Change)
	for _, c := range changes {
		byKind[c.Kind] = append(byKind[c.Kind], c)
	}

	if n := len(byKind[Modified]); n != 1 || byKind[Modified][0].Path != "change.md" {
		t.Errorf("modified = %+v", byKind[Modified])
	}
	if n := len(byKind[Created]); n != 1 || byKind[Created][0].Path != "new.md" {
		t.Errorf("created = %+v", byKind[Created])
	}
	if n := len(byKind[Renamed]); n != 1 {
		t.Fatalf("renamed = %+v", byKind[Renamed])
	}
	if r := byKind[Renamed][0]; r.OldPath != "moved.md" || r.Path != "renamed.md" {
		t.Errorf("rename pairing = %+v", r)
	}
	if n := len(byKind[Deleted]); n != 1 || byKind[Deleted][0].Path != "gone.md" {
		t.Errorf("deleted = %+v", byKind[Deleted])
	}
}

func TestDetectorDiffDoesNotMutate(t *testing.T) {
	d := NewDetector(time.Second)
	d.Seed([]models.FileInfo{{Path: "a.md", Checksum: "1"}})

	d.Diff([]models.FileInfo{{Path: "a.md", Checksum: "2"}})

	// Same diff again: state unchanged until Record is called.
	changes := d.Diff([]models.FileInfo{{Path: "a.md", Checksum: "2"}})
	if len(changes) != 1 || changes[0].Kind != Modified {
		t.Fatalf("second diff = %+v, want the same Modified change", changes)
	}

	d.Record("a.md", "2")
	if changes := d.Diff([]models.FileInfo{{Path: "a.md", Checksum: "2"}}); len(changes) != 0 {
		t.Errorf("after Record, diff = %+v, want none", changes)
	}
}
