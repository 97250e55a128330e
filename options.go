package semdex

import (
	"time"

	"github.com/hupe1980/semdex/hnsw"
	"github.com/hupe1980/semdex/persistence"
)

const (
	// DefaultEFSearch is the default candidate-list width for queries.
	DefaultEFSearch = 100

	// DefaultAutoSaveDelay is the default debounce window between the last
	// mutation and the automatic flush.
	DefaultAutoSaveDelay = 3 * time.Second

	// DefaultMinAutoSaveInterval is the default minimum spacing between two
	// automatic flushes under sustained write load.
	DefaultMinAutoSaveInterval = 1 * time.Second
)

type options struct {
	graphOptions        []func(o *hnsw.Options)
	efSearch            int
	autoSaveDelay       time.Duration
	minAutoSaveInterval time.Duration
	compression         persistence.CompressionType
	logger              *Logger
}

// Option configures Store constructor/load behavior.
type Option func(*options)

// WithM configures the number of bidirectional links per graph layer.
func WithM(m int) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, func(g *hnsw.Options) { g.M = m })
	}
}

// WithEFConstruction configures the candidate-list width used while linking
// new vectors. Larger values improve graph quality at the cost of slower
// inserts.
func WithEFConstruction(ef int) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, func(g *hnsw.Options) { g.EFConstruction = ef })
	}
}

// WithHeuristic enables diversity-aware neighbor selection.
func WithHeuristic(enabled bool) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, func(g *hnsw.Options) { g.Heuristic = enabled })
	}
}

// WithDimension fixes the vector dimensionality up front instead of letting
// the first upsert fix it.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, func(g *hnsw.Options) { g.Dimension = dim })
	}
}

// WithRandomSeed makes probabilistic level assignment reproducible.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, func(g *hnsw.Options) { g.RandomSeed = &seed })
	}
}

// WithEFSearch configures the candidate-list width for queries. Values below
// k are raised to k per query.
func WithEFSearch(ef int) Option {
	return func(o *options) {
		if ef > 0 {
			o.efSearch = ef
		}
	}
}

// WithAutoSaveDelay configures the debounce window: a flush is scheduled
// this long after the last mutation, and every further mutation restarts the
// countdown. Zero disables automatic saving entirely; mutations then persist
// only via Save or Close.
func WithAutoSaveDelay(d time.Duration) Option {
	return func(o *options) {
		o.autoSaveDelay = d
	}
}

// WithMinAutoSaveInterval bounds how often automatic flushes may hit disk
// under sustained writes. Explicit Save calls are not throttled.
func WithMinAutoSaveInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.minAutoSaveInterval = d
		}
	}
}

// WithCompression selects the snapshot payload compression.
func WithCompression(c persistence.CompressionType) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}
