// Package models defines the domain types for Ansuz.
package models

import "time"

// Project is an isolation boundary for a set of documents and their graph.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Root      string    `json:"root"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is the graph representation of one document.
type Entity struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	EntityType  string    `json:"entity_type"`
	Permalink   string    `json:"permalink"`
	FilePath    string    `json:"file_path"`
	Checksum    string    `json:"checksum"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Populated on detail lookups only.
	Observations []Observation `json:"observations,omitempty"`
	Relations    []Relation    `json:"relations,omitempty"`
}

// Observation is an atomic, categorized fact owned by one entity.
type Observation struct {
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Relation is a directed, typed edge from one entity to a named target.
// ToID is nil while the target entity does not exist (a forward reference);
// ToName always holds the literal link text.
type Relation struct {
	ID        int64     `json:"id"`
	FromID    int64     `json:"from_id"`
	ToID      *int64    `json:"to_id,omitempty"`
	ToName    string    `json:"to_name"`
	Type      string    `json:"type"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolved reports whether the relation points at an existing entity.
func (r Relation) Resolved() bool { return r.ToID != nil }

// SyncReport summarizes one full reconciliation pass over a project.
type SyncReport struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Deleted int         `json:"deleted"`
	Renamed int         `json:"renamed"`
	Errors  []SyncError `json:"errors,omitempty"`
}

// SyncError records a per-document failure inside a sync pass.
type SyncError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// FileInfo is lightweight metadata for one document on disk.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
