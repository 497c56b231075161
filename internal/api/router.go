package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Projects.
	r.Get("/projects", h.ListProjects)

	// Sync operations.
	r.Post("/projects/{project}/sync", h.SyncProject)
	r.Post("/projects/{project}/sync/document", h.SyncDocument)
	r.Post("/projects/{project}/resolve", h.Resolve)

	// Graph reads.
	r.Get("/projects/{project}/search", h.Search)
	r.Get("/projects/{project}/entities/*", h.GetEntity)
	r.Get("/projects/{project}/graph", h.Graph)

	// Document I/O.
	r.Get("/projects/{project}/documents/*", h.GetDocument)
	r.Put("/projects/{project}/documents/*", h.PutDocument)
	r.Delete("/projects/{project}/documents/*", h.DeleteDocument)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
