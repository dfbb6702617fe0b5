package catalog

import "errors"

// Error kinds surfaced to the API layer. Wrapped with context via fmt.Errorf
// and matched with errors.Is.
var (
	// ErrNotFound marks an unknown public map, source, hmap source, map, or
	// tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument marks bad user input: invalid slug, duplicate link,
	// malformed HMap upload, or deletion of an in-use entity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict marks an operation racing an in-flight one.
	ErrConflict = errors.New("conflict")
)
