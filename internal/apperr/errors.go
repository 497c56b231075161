package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrSuperseded means a document changed on disk while its previous
	// version was mid-processing; the stale transaction was discarded.
	ErrSuperseded = errors.New("superseded by newer change")
)
