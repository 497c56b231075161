package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/apperr"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the trailing path segment from the URL. Supports
// encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func projectName(r *http.Request) string {
	return chi.URLParam(r, "project")
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List registered projects
//	@Tags			projects
//	@Produce		json
//	@Success		200	{array}	ProjectInfo
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": h.svc.ListProjects(),
	})
}

// SyncProject handles POST /api/projects/{project}/sync.
//
//	@Summary		Run a full disk-to-graph reconciliation
//	@Tags			sync
//	@Produce		json
//	@Param			project	path		string	true	"Project name"
//	@Success		200		{object}	models.SyncReport
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/sync [post]
func (h *Handler) SyncProject(w http.ResponseWriter, r *http.Request) {
	name := projectName(r)
	report, err := h.svc.SyncProject(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
			return
		}
		slog.Error("sync project failed", slog.String("project", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SyncDocument handles POST /api/projects/{project}/sync/document.
//
//	@Summary		Synchronize a single document by path
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			project	path		string				true	"Project name"
//	@Param			body	body		SyncDocumentRequest	true	"Document to sync"
//	@Success		200		{object}	models.Entity
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/sync/document [post]
func (h *Handler) SyncDocument(w http.ResponseWriter, r *http.Request) {
	var req SyncDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	name := projectName(r)
	entity, err := h.svc.SyncDocument(r.Context(), name, req.Path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
		case errors.Is(err, apperr.ErrSuperseded):
			writeJSON(w, http.StatusConflict, errorBody("superseded by newer change"))
		default:
			slog.Error("sync document failed", slog.String("project", name),
				slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		}
		return
	}
	if entity == nil {
		// The document vanished before sync; its entity was removed instead.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// Resolve handles POST /api/projects/{project}/resolve.
//
//	@Summary		Force a forward-reference resolution sweep
//	@Tags			sync
//	@Produce		json
//	@Param			project	path		string	true	"Project name"
//	@Success		200		{object}	ResolveResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/resolve [post]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	name := projectName(r)
	n, err := h.svc.Resolve(name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
			return
		}
		slog.Error("resolve failed", slog.String("project", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Resolved: n})
}

// Search handles GET /api/projects/{project}/search.
//
//	@Summary		Full-text search scoped to one project
//	@Tags			search
//	@Produce		json
//	@Param			project	path		string	true	"Project name"
//	@Param			q		query		string	true	"Search query"
//	@Param			type	query		string	false	"Filter by entity type"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	name := projectName(r)
	results, err := h.svc.Search(name, q, r.URL.Query().Get("type"), limit)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
			return
		}
		slog.Error("search failed", slog.String("project", name),
			slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// GetEntity handles GET /api/projects/{project}/entities/*.
//
//	@Summary		Get an entity by id, permalink, title, or document path
//	@Tags			entities
//	@Produce		json
//	@Param			project		path		string	true	"Project name"
//	@Param			identifier	path		string	true	"Entity identifier"
//	@Success		200			{object}	models.Entity
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/entities/{identifier} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	identifier := wildcardPath(r)
	if identifier == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identifier is required"))
		return
	}
	name := projectName(r)
	entity, err := h.svc.GetEntity(name, identifier)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("get entity failed", slog.String("project", name),
			slog.String("identifier", identifier), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// GetDocument handles GET /api/projects/{project}/documents/*.
//
//	@Summary		Read a document with its graph entity
//	@Tags			documents
//	@Produce		json
//	@Param			project	path		string	true	"Project name"
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	name := projectName(r)
	doc, err := h.svc.GetDocument(name, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("get document failed", slog.String("project", name),
			slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /api/projects/{project}/documents/*.
//
//	@Summary		Write a document and synchronize it
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			project		path	string				true	"Project name"
//	@Param			path		path	string				true	"Document path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	PutDocumentRequest	true	"Document content"
//	@Success		200			{object}	models.Entity
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/documents/{path} [put]
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req PutDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	name := projectName(r)
	entity, err := h.svc.PutDocument(r.Context(), name, path, []byte(req.Content), ifMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
		default:
			slog.Error("put document failed", slog.String("project", name),
				slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// DeleteDocument handles DELETE /api/projects/{project}/documents/*.
//
//	@Summary		Delete a document and its entity
//	@Tags			documents
//	@Param			project	path	string	true	"Project name"
//	@Param			path	path	string	true	"Document path"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	name := projectName(r)
	if err := h.svc.DeleteDocument(name, path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("delete document failed", slog.String("project", name),
			slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Graph handles GET /api/projects/{project}/graph.
//
//	@Summary		Export the project knowledge graph
//	@Tags			graph
//	@Produce		json
//	@Param			project	path		string	true	"Project name"
//	@Success		200		{object}	GraphResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{project}/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	name := projectName(r)
	nodes, links, err := h.svc.Graph(name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
			return
		}
		slog.Error("graph failed", slog.String("project", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"links": links,
	})
}
