package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns raw filesystem notifications under one project root into
// dispatcher tasks. Write bursts on a path are debounced so an editor's
// write-close-write dance produces a single sync; removals go through the
// dispatcher's rename window before they become deletes.
type Watcher struct {
	root     string
	disp     *Dispatcher
	logger   *slog.Logger
	debounce time.Duration

	mu     gosync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher for the given absolute project root.
func NewWatcher(root string, disp *Dispatcher, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		disp:     disp,
		logger:   logger,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches the project tree until the context is cancelled. Directories
// created while watching are picked up, including any documents already
// inside them by the time the notification arrives.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	defer w.cancelTimers()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watch: started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod != 0 && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addRecursive(fw, ev.Name); err != nil {
				w.logger.Warn("watch: add dir", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			return
		}
	}

	rel, ok := w.relPath(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.cancelTimer(rel)
		w.disp.Enqueue(Task{Kind: TaskRemove, Path: rel})
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.scheduleUpsert(rel)
	}
}

// scheduleUpsert (re)arms the per-path debounce timer.
func (w *Watcher) scheduleUpsert(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[rel]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, rel)
		w.mu.Unlock()
		w.disp.Enqueue(Task{Kind: TaskUpsert, Path: rel})
	})
}

func (w *Watcher) cancelTimer(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[rel]; ok {
		t.Stop()
		delete(w.timers, rel)
	}
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, t := range w.timers {
		t.Stop()
		delete(w.timers, rel)
	}
}

// relPath maps an absolute event path to the project-relative slash path of
// a document, or ok=false for anything the engine should ignore.
func (w *Watcher) relPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(base), ".md") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addRecursive registers dir and every subdirectory, then enqueues any
// documents already present under newly seen directories so files that raced
// the watch registration are not missed.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return fw.Add(path)
		}
		if dir != w.root {
			if rel, ok := w.relPath(path); ok {
				w.scheduleUpsert(rel)
			}
		}
		return nil
	})
}
