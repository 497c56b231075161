package api

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
	syncer "github.com/starford/ansuz/internal/sync"
)

// Project bundles what the API needs for one registered project.
type Project struct {
	Store storage.Provider
	Sync  *syncer.Service
}

// Service coordinates graph and sync operations for the API layer.
type Service struct {
	db       *graph.DB
	projects map[string]Project
}

// NewService creates the API service over the given project registry,
// keyed by project name.
func NewService(db *graph.DB, projects map[string]Project) *Service {
	return &Service{db: db, projects: projects}
}

func (s *Service) project(name string) (Project, error) {
	p, ok := s.projects[name]
	if !ok {
		return Project{}, apperr.ErrNotFound
	}
	return p, nil
}

// ListProjects returns every registered project, sorted by name.
func (s *Service) ListProjects() []ProjectInfo {
	out := make([]ProjectInfo, 0, len(s.projects))
	for name, p := range s.projects {
		proj := p.Sync.Project()
		out = append(out, ProjectInfo{
			Name:    name,
			Root:    proj.Root,
			Default: proj.IsDefault,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SyncProject runs a full disk-to-graph reconciliation for one project.
func (s *Service) SyncProject(ctx context.Context, name string) (*models.SyncReport, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	return p.Sync.SyncProject(ctx)
}

// SyncDocument synchronizes a single document by path.
func (s *Service) SyncDocument(ctx context.Context, name, path string) (*models.Entity, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	return p.Sync.SyncDocument(ctx, path)
}

// Resolve forces a forward-reference resolution sweep.
func (s *Service) Resolve(name string) (int, error) {
	p, err := s.project(name)
	if err != nil {
		return 0, err
	}
	return p.Sync.ResolvePending()
}

// Search runs a scoped full-text search.
func (s *Service) Search(name, query, entityType string, limit int) ([]graph.SearchResult, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	return s.db.Search(p.Sync.Project().ID, query, graph.SearchFilters{
		EntityType: entityType,
		Limit:      limit,
	})
}

// GetEntity resolves an identifier to an entity with observations and
// relations attached. The identifier may be a numeric id, a document path,
// or a permalink; unmatched permalinks fall back to a title lookup.
func (s *Service) GetEntity(name, identifier string) (*models.Entity, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	projectID := p.Sync.Project().ID

	if id, convErr := strconv.ParseInt(identifier, 10, 64); convErr == nil {
		e, err := s.db.EntityByID(id)
		if err == nil && e.ProjectID == projectID {
			return s.db.EntityDetail(e.ID)
		}
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		// No such id in this project; the identifier may still be a
		// numeric permalink or title (a document named "2024").
	}

	if strings.Contains(identifier, "/") || strings.HasSuffix(identifier, ".md") {
		e, err := s.db.EntityByPath(projectID, identifier)
		if err != nil {
			return nil, err
		}
		return s.db.EntityDetail(e.ID)
	}

	e, err := s.db.EntityByPermalink(projectID, identifier)
	if errors.Is(err, apperr.ErrNotFound) {
		matches, titleErr := s.db.EntitiesByTitle(projectID, identifier)
		if titleErr != nil {
			return nil, titleErr
		}
		if len(matches) == 0 {
			return nil, apperr.ErrNotFound
		}
		e = &matches[0]
	} else if err != nil {
		return nil, err
	}
	return s.db.EntityDetail(e.ID)
}

// GetDocument reads a document's raw content along with its graph entity.
func (s *Service) GetDocument(name, path string) (*DocumentDetail, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	data, err := p.Store.Read(path)
	if err != nil {
		return nil, apperr.ErrNotFound
	}

	detail := &DocumentDetail{
		Path:     path,
		Content:  string(data),
		Checksum: checksum.Sum(data),
	}
	if e, err := s.db.EntityByPath(p.Sync.Project().ID, path); err == nil {
		detail.Entity, _ = s.db.EntityDetail(e.ID)
	}
	return detail, nil
}

// PutDocument writes document content and synchronizes it immediately.
// ifMatch, when set, must equal the current content checksum (optimistic
// concurrency); a mismatch returns ErrConflict.
func (s *Service) PutDocument(ctx context.Context, name, path string, content []byte, ifMatch string) (*models.Entity, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" {
		existing, readErr := p.Store.Read(path)
		if readErr != nil || checksum.Sum(existing) != ifMatch {
			return nil, apperr.ErrConflict
		}
	}
	if err := p.Store.Write(path, content); err != nil {
		return nil, err
	}
	return p.Sync.SyncDocument(ctx, path)
}

// DeleteDocument removes a document from disk and its entity from the graph.
func (s *Service) DeleteDocument(name, path string) error {
	p, err := s.project(name)
	if err != nil {
		return err
	}
	if err := p.Store.Delete(path); err != nil {
		return apperr.ErrNotFound
	}
	return p.Sync.DeleteDocument(path)
}

// Graph exports the project's knowledge graph: entities as nodes, relations
// as links. Unresolved relations appear with an empty target.
func (s *Service) Graph(name string) ([]GraphNode, []GraphLink, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, nil, err
	}
	projectID := p.Sync.Project().ID

	entities, err := s.db.AllEntities(projectID)
	if err != nil {
		return nil, nil, err
	}
	permalinks := make(map[int64]string, len(entities))
	nodes := make([]GraphNode, len(entities))
	for i, e := range entities {
		permalinks[e.ID] = e.Permalink
		nodes[i] = GraphNode{ID: e.Permalink, Title: e.Title, EntityType: e.EntityType}
	}

	rels, err := s.db.ProjectRelations(projectID)
	if err != nil {
		return nil, nil, err
	}
	links := make([]GraphLink, 0, len(rels))
	for _, r := range rels {
		link := GraphLink{Source: permalinks[r.FromID], Type: r.Type}
		if r.Resolved() {
			link.Target = permalinks[*r.ToID]
		} else {
			link.TargetName = r.ToName
		}
		links = append(links, link)
	}
	return nodes, links, nil
}
