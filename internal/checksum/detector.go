package checksum

import (
	"sort"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// ChangeKind classifies a filesystem change relative to the last known state.
type ChangeKind string

const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
	Renamed  ChangeKind = "renamed"
)

// Change is one classified filesystem change. For Renamed changes OldPath
// holds the previous path and Checksum the unchanged content fingerprint.
type Change struct {
	Kind     ChangeKind
	Path     string
	OldPath  string
	Checksum string
}

type removal struct {
	path string
	at   time.Time
}

// Detector tracks the last-known content fingerprint per file path and turns
// raw filesystem notifications into created/modified/deleted/renamed changes.
// A delete immediately followed by a create with an identical fingerprint
// (within the rename window) collapses into a single rename.
//
// One Detector serves one project. Safe for concurrent use.
type Detector struct {
	mu     sync.Mutex
	known  map[string]string    // path -> checksum
	gone   map[string][]removal // checksum -> recent removals, for rename pairing
	window time.Duration
}

// NewDetector creates a Detector with the given rename-pairing window.
func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Detector{
		known:  make(map[string]string),
		gone:   make(map[string][]removal),
		window: window,
	}
}

// Seed replaces the known state with the given file listing. Called after an
// initial full scan so that incremental watching starts from a clean baseline.
func (d *Detector) Seed(infos []models.FileInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known = make(map[string]string, len(infos))
	for _, fi := range infos {
		d.known[fi.Path] = fi.Checksum
	}
}

// Record updates the known fingerprint for path without emitting a change.
// The orchestrator calls it after a document transaction commits.
func (d *Detector) Record(path, cs string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[path] = cs
}

// Forget drops path from the known state.
func (d *Detector) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.known, path)
}

// Known returns the stored fingerprint for path, or "".
func (d *Detector) Known(path string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[path]
}

// OnWrite classifies a create/write notification given the file's current
// fingerprint. Returns nil when the content did not actually change (touch
// without modification).
func (d *Detector) OnWrite(path, cs string) *Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.known[path]; ok {
		if prev == cs {
			return nil
		}
		d.known[path] = cs
		return &Change{Kind: Modified, Path: path, Checksum: cs}
	}

	// New path: pair with the oldest recent removal of identical content.
	for i, rm := range d.gone[cs] {
		if time.Since(rm.at) > d.window {
			continue
		}
		d.dropRemoval(cs, i)
		d.known[path] = cs
		return &Change{Kind: Renamed, Path: path, OldPath: rm.path, Checksum: cs}
	}

	d.known[path] = cs
	return &Change{Kind: Created, Path: path, Checksum: cs}
}

// OnRemove classifies a remove notification. Returns nil for unknown paths.
func (d *Detector) OnRemove(path string) *Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	cs, ok := d.known[path]
	if !ok {
		return nil
	}
	delete(d.known, path)
	d.gone[cs] = append(d.gone[cs], removal{path: path, at: time.Now()})
	return &Change{Kind: Deleted, Path: path, Checksum: cs}
}

// TakeRemoval consumes the pending removal for path, reporting whether it was
// still unpaired. A false return means a rename already claimed it, so the
// caller must not delete the entity.
func (d *Detector) TakeRemoval(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for cs, rms := range d.gone {
		for i, rm := range rms {
			if rm.path == path {
				d.dropRemoval(cs, i)
				return true
			}
		}
	}
	return false
}

// dropRemoval removes one pending removal. Caller holds d.mu.
func (d *Detector) dropRemoval(cs string, i int) {
	rms := d.gone[cs]
	d.gone[cs] = append(rms[:i], rms[i+1:]...)
	if len(d.gone[cs]) == 0 {
		delete(d.gone, cs)
	}
}

// Diff compares a full on-disk listing against the known state and returns
// the changes needed to converge, pairing same-content delete/create into
// renames. It does not mutate the known state; callers apply each change and
// Record/Forget as transactions commit.
func (d *Detector) Diff(infos []models.FileInfo) []Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	disk := make(map[string]string, len(infos))
	for _, fi := range infos {
		disk[fi.Path] = fi.Checksum
	}

	var removed []string
	for path := range d.known {
		if _, ok := disk[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	removedByCS := make(map[string][]string) // checksum -> old paths
	for _, path := range removed {
		cs := d.known[path]
		removedByCS[cs] = append(removedByCS[cs], path)
	}

	var out []Change
	var added []Change
	for _, fi := range infos {
		prev, ok := d.known[fi.Path]
		switch {
		case !ok:
			added = append(added, Change{Kind: Created, Path: fi.Path, Checksum: fi.Checksum})
		case prev != fi.Checksum:
			out = append(out, Change{Kind: Modified, Path: fi.Path, Checksum: fi.Checksum})
		}
	}

	for _, c := range added {
		if olds := removedByCS[c.Checksum]; len(olds) > 0 {
			removedByCS[c.Checksum] = olds[1:]
			out = append(out, Change{Kind: Renamed, Path: c.Path, OldPath: olds[0], Checksum: c.Checksum})
			continue
		}
		out = append(out, c)
	}
	for _, path := range removed {
		cs := d.known[path]
		olds := removedByCS[cs]
		if len(olds) > 0 && olds[0] == path {
			removedByCS[cs] = olds[1:]
			out = append(out, Change{Kind: Deleted, Path: path, Checksum: cs})
		}
	}
	return out
}
