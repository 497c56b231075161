// Package sync drives the per-document state machine: it consumes
// filesystem change events, invokes the parser, graph store, link resolver,
// and search indexer in order, and exposes the operations external layers
// call. Documents on disk are the single source of truth; everything here is
// rebuildable from them.
package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/resolver"
	"github.com/starford/ansuz/internal/storage"
)

// EventCallback is invoked after a committed graph change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Options tunes one project's sync behavior.
type Options struct {
	// RegeneratePermalinksOnMove rebuilds an entity's permalink from its
	// title when its document is renamed. Off by default: moves keep both
	// id and permalink stable.
	RegeneratePermalinksOnMove bool
	// ReadRetries is the number of attempts for transient filesystem reads.
	ReadRetries int
	// RetryBackoff is the initial backoff between read attempts (doubled
	// each retry).
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadRetries <= 0 {
		o.ReadRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	return o
}

// Service synchronizes one project's documents with the graph store.
type Service struct {
	db       *graph.DB
	store    storage.Provider
	project  *models.Project
	detector *checksum.Detector
	logger   *slog.Logger
	opts     Options
	callback EventCallback
}

// NewService creates the sync service for one project. The detector carries
// the per-path fingerprint state shared with the watcher.
func NewService(db *graph.DB, store storage.Provider, project *models.Project,
	detector *checksum.Detector, logger *slog.Logger, opts Options, cb EventCallback) *Service {
	return &Service{
		db:       db,
		store:    store,
		project:  project,
		detector: detector,
		logger:   logger,
		opts:     opts.withDefaults(),
		callback: cb,
	}
}

// Project returns the project this service synchronizes.
func (s *Service) Project() *models.Project { return s.project }

// Detector exposes the change detector shared with the event dispatcher.
func (s *Service) Detector() *checksum.Detector { return s.detector }

// ProcessWrite classifies a write/create notification against the detector
// state and applies the resulting change. A write that pairs with a recent
// same-content removal becomes a move instead of a delete plus create.
func (s *Service) ProcessWrite(ctx context.Context, path string) error {
	data, err := s.readWithRetry(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// File vanished again; the remove notification handles it.
			return nil
		}
		return err
	}

	change := s.detector.OnWrite(path, checksum.Sum(data))
	if change == nil {
		return nil
	}
	switch change.Kind {
	case checksum.Renamed:
		_, err = s.MoveDocument(change.OldPath, change.Path)
	default:
		_, err = s.SyncDocument(ctx, path)
	}
	if errors.Is(err, apperr.ErrSuperseded) {
		return nil
	}
	return err
}

// SeedDetector loads the detector baseline from the graph store, so that a
// restart does not reprocess unchanged documents.
func (s *Service) SeedDetector() error {
	checksums, err := s.db.AllChecksums(s.project.ID)
	if err != nil {
		return err
	}
	infos := make([]models.FileInfo, 0, len(checksums))
	for p, cs := range checksums {
		infos = append(infos, models.FileInfo{Path: p, Checksum: cs})
	}
	s.detector.Seed(infos)
	return nil
}

// SyncDocument processes one document through the full pipeline:
// parse → graph upsert → link resolution → reindex, all in one transaction.
// Idempotent: an unchanged document results in zero writes and no reindex.
func (s *Service) SyncDocument(ctx context.Context, path string) (*models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.readWithRetry(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, s.DeleteDocument(path)
		}
		return nil, err
	}

	cs := checksum.Sum(data)
	stored, err := s.db.EntityChecksum(s.project.ID, path)
	if err != nil {
		return nil, err
	}
	if stored == cs {
		s.detector.Record(path, cs)
		return s.db.EntityByPath(s.project.ID, path)
	}

	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}

	title := res.Title
	if title == "" {
		title = titleFromPath(path)
	}
	entity := &models.Entity{
		ProjectID:   s.project.ID,
		Title:       title,
		EntityType:  res.EntityType,
		Permalink:   res.Permalink,
		FilePath:    path,
		Checksum:    cs,
		Description: res.Body,
		Tags:        res.Tags,
	}
	obs := toObservations(res.Observations)
	rels := toRelations(res.Relations)

	created := false
	err = s.db.WithTx(func(tx *graph.Tx) error {
		// Supersede check: if the document changed again while this
		// version was being processed, discard the stale transaction.
		// The newer change event is already behind us in the queue.
		if current, readErr := s.store.Read(path); readErr == nil {
			if checksum.Sum(current) != cs {
				return apperr.ErrSuperseded
			}
		}

		prior, txErr := tx.EntityByPath(s.project.ID, path)
		if txErr != nil && !errors.Is(txErr, apperr.ErrNotFound) {
			return txErr
		}

		created, txErr = tx.UpsertEntity(entity)
		if txErr != nil {
			return txErr
		}
		if txErr = tx.ReplaceObservations(entity.ID, obs); txErr != nil {
			return txErr
		}
		if txErr = tx.ReplaceRelations(entity.ID, rels); txErr != nil {
			return txErr
		}
		if _, txErr = resolver.ResolveOutgoing(tx, s.project.ID, entity.ID); txErr != nil {
			return txErr
		}
		// A new entity, or a retitled/re-slugged one, may satisfy forward
		// references elsewhere in the project.
		if created || prior.Title != entity.Title || prior.Permalink != entity.Permalink {
			if _, txErr = resolver.ResolveIncoming(tx, entity); txErr != nil {
				return txErr
			}
		}
		return tx.IndexEntity(entity, obs)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrSuperseded) {
			s.logger.Debug("sync: superseded", slog.String("path", path))
			return nil, err
		}
		return nil, err
	}

	s.detector.Record(path, cs)
	kind := "updated"
	if created {
		kind = "created"
	}
	s.emit(kind, path)
	s.logger.Debug("sync: document synced",
		slog.String("path", path), slog.String("op", kind))
	return entity, nil
}

// DeleteDocument removes the entity backing a vanished document, cascading
// to its observations, outgoing relations, and search projection. Incoming
// relations from other entities revert to forward references.
func (s *Service) DeleteDocument(path string) error {
	entity, err := s.db.EntityByPath(s.project.ID, path)
	if errors.Is(err, apperr.ErrNotFound) {
		s.detector.Forget(path)
		return nil
	}
	if err != nil {
		return err
	}

	err = s.db.WithTx(func(tx *graph.Tx) error {
		return tx.DeleteEntity(entity.ID)
	})
	if err != nil {
		return err
	}

	s.detector.Forget(path)
	s.emit("deleted", path)
	s.logger.Debug("sync: document deleted", slog.String("path", path))
	return nil
}

// MoveDocument handles a rename with unchanged content: a single path update,
// no content reprocessing. Depending on project options the permalink is
// kept or regenerated; either way the entity id is stable and resolved
// incoming relations keep pointing at it.
func (s *Service) MoveDocument(oldPath, newPath string) (*models.Entity, error) {
	entity, err := s.db.EntityByPath(s.project.ID, oldPath)
	if errors.Is(err, apperr.ErrNotFound) {
		// Old path never made it into the graph; treat as a new document.
		return s.SyncDocument(context.Background(), newPath)
	}
	if err != nil {
		return nil, err
	}

	var moved *models.Entity
	err = s.db.WithTx(func(tx *graph.Tx) error {
		var txErr error
		moved, txErr = tx.MoveEntity(entity.ID, newPath, s.opts.RegeneratePermalinksOnMove)
		if txErr != nil {
			return txErr
		}
		if s.opts.RegeneratePermalinksOnMove {
			// A fresh permalink may satisfy forward references elsewhere.
			if _, txErr = resolver.ResolveIncoming(tx, moved); txErr != nil {
				return txErr
			}
		}
		obs, txErr := tx.ObservationsForEntity(moved.ID)
		if txErr != nil {
			return txErr
		}
		return tx.IndexEntity(moved, obs)
	})
	if err != nil {
		return nil, err
	}

	s.emit("updated", newPath)
	s.logger.Debug("sync: document moved",
		slog.String("from", oldPath), slog.String("to", newPath))
	return moved, nil
}

// SyncProject walks every document once and reconciles the graph with disk:
// the consistent baseline before incremental watching begins, and the
// full-reconciliation operation callers can invoke at any time. A failure on
// one document is recorded in the report and does not halt the pass; the
// pass is cancellable between documents but never mid-transaction.
func (s *Service) SyncProject(ctx context.Context) (*models.SyncReport, error) {
	infos, err := s.store.List("")
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{}
	for _, change := range s.detector.Diff(infos) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.applyChange(ctx, change, report)
	}

	// Catch any forward references satisfied late in the pass.
	if _, err := s.ResolvePending(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) applyChange(ctx context.Context, change checksum.Change, report *models.SyncReport) {
	var err error
	switch change.Kind {
	case checksum.Created:
		if _, err = s.SyncDocument(ctx, change.Path); err == nil {
			report.Created++
		}
	case checksum.Modified:
		if _, err = s.SyncDocument(ctx, change.Path); err == nil {
			report.Updated++
		}
	case checksum.Renamed:
		if _, err = s.MoveDocument(change.OldPath, change.Path); err == nil {
			report.Renamed++
			s.detector.Forget(change.OldPath)
			s.detector.Record(change.Path, change.Checksum)
		}
	case checksum.Deleted:
		if err = s.DeleteDocument(change.Path); err == nil {
			report.Deleted++
		}
	}
	if err != nil && !errors.Is(err, apperr.ErrSuperseded) {
		report.Errors = append(report.Errors, models.SyncError{
			Path:    change.Path,
			Message: err.Error(),
		})
		s.logger.Warn("sync: document failed",
			slog.String("path", change.Path), slog.String("error", err.Error()))
	}
}

// ResolvePending forces a forward-reference resolution sweep.
func (s *Service) ResolvePending() (int, error) {
	return resolver.ResolvePending(s.db, s.project.ID)
}

// readWithRetry reads a document with bounded backoff for transient errors.
// A missing file is returned immediately; it is a state, not a fault.
func (s *Service) readWithRetry(path string) ([]byte, error) {
	backoff := s.opts.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < s.opts.ReadRetries; attempt++ {
		data, err := s.store.Read(path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, lastErr
}

func (s *Service) emit(kind, path string) {
	if s.callback != nil {
		s.callback(kind, path)
	}
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func toObservations(in []parser.Observation) []models.Observation {
	out := make([]models.Observation, len(in))
	for i, o := range in {
		out[i] = models.Observation{
			Category: o.Category,
			Content:  o.Content,
			Tags:     o.Tags,
			Context:  o.Context,
		}
	}
	return out
}

func toRelations(in []parser.Relation) []models.Relation {
	out := make([]models.Relation, len(in))
	for i, r := range in {
		out[i] = models.Relation{
			ToName:  r.Target,
			Type:    r.Type,
			Context: r.Context,
		}
	}
	return out
}
