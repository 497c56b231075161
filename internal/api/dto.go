package api

import (
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
)

// ProjectInfo describes one registered project.
type ProjectInfo struct {
	Name    string `json:"name" example:"main" validate:"required"`
	Root    string `json:"root" example:"/data/main" validate:"required"`
	Default bool   `json:"default" example:"true"`
}

// PutDocumentRequest is the request body for writing a document.
type PutDocumentRequest struct {
	Content string `json:"content" example:"# Coffee\n- [method] pour over" validate:"required"`
}

// SyncDocumentRequest names the document to synchronize.
type SyncDocumentRequest struct {
	Path string `json:"path" example:"notes/coffee.md" validate:"required"`
}

// DocumentDetail is raw document content plus its graph entity, when indexed.
type DocumentDetail struct {
	Path     string         `json:"path" example:"notes/coffee.md" validate:"required"`
	Content  string         `json:"content" validate:"required"`
	Checksum string         `json:"checksum" example:"ab12..." validate:"required"`
	Entity   *models.Entity `json:"entity,omitempty"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []graph.SearchResult `json:"results" validate:"required"`
}

// ResolveResponse reports a resolution sweep's outcome.
type ResolveResponse struct {
	Resolved int `json:"resolved" example:"3" validate:"required"`
}

// GraphNode is a node in the knowledge graph export.
type GraphNode struct {
	ID         string `json:"id" example:"coffee-brewing" validate:"required"`
	Title      string `json:"title" example:"Coffee Brewing"`
	EntityType string `json:"entity_type,omitempty" example:"note"`
}

// GraphLink is an edge in the knowledge graph export. Target is empty for a
// forward reference; TargetName then carries the literal link text.
type GraphLink struct {
	Source     string `json:"source" example:"coffee-brewing" validate:"required"`
	Target     string `json:"target,omitempty" example:"water-quality"`
	TargetName string `json:"target_name,omitempty" example:"Water Quality"`
	Type       string `json:"type" example:"relates_to" validate:"required"`
}

// GraphResponse wraps the knowledge graph export.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes" validate:"required"`
	Links []GraphLink `json:"links" validate:"required"`
}
