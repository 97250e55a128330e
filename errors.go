package semdex

import "errors"

var (
	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrEmptyPath is returned when a store is opened without a file path.
	ErrEmptyPath = errors.New("snapshot path must not be empty")

	// ErrInvalidK is returned when a search is issued with a non-positive k.
	ErrInvalidK = errors.New("k must be positive")
)
