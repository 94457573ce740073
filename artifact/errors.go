package artifact

import "errors"

var (
	// ErrNotFound is returned when an artifact for the given namespace / id
	// pair does not exist in the underlying store.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidID is returned for ids or namespaces that would escape the
	// store's root.
	ErrInvalidID = errors.New("invalid artifact id")
)
