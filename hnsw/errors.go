package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyVector is returned when an empty vector is inserted or queried.
	ErrEmptyVector = errors.New("hnsw: empty vector")

	// ErrCorrupted is returned when serialized graph data cannot be decoded
	// into a consistent graph.
	ErrCorrupted = errors.New("hnsw: corrupted graph data")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
