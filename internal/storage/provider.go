// Package storage defines the project file-system abstraction.
package storage

import "github.com/starford/ansuz/internal/models"

// Provider is the interface for project document file operations.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to the project root).
	List(dir string) ([]models.FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to the project root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the project root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to the project root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to the project root).
	Move(oldPath, newPath string) error
}
