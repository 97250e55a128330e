package semdex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hupe1980/semdex/hnsw"
	"github.com/hupe1980/semdex/persistence"
)

// Item is a key/vector pair for batch upserts.
type Item struct {
	Key    string
	Vector []float32
}

// Result is a single search hit. Score is cosine similarity, so higher is
// better; an identical vector scores 1.
type Result struct {
	Key   string
	Score float32
}

// Store is a durable, concurrency-safe wrapper around an HNSW graph.
//
// Mutations mark the store dirty and arm a debounced background flush; every
// further mutation restarts the countdown, so write bursts coalesce into a
// single snapshot. Saves are atomic: a reader of the snapshot file never
// observes a partially written state.
type Store struct {
	path   string
	opts   options
	graph  *hnsw.Graph
	logger *Logger

	sf      singleflight.Group
	limiter *rate.Limiter
	saving  sync.WaitGroup // tracks the background flush goroutine

	mu     sync.Mutex // guards dirty, closed and the flush timer
	dirty  bool
	closed bool
	timer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// Open creates a Store backed by the snapshot file at path. If the file
// exists it is loaded; a missing file yields an empty store. A corrupt or
// unreadable snapshot is logged and treated as empty rather than failing
// open, so a damaged file never takes the application down.
func Open(path string, optFns ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	opts := options{
		efSearch:            DefaultEFSearch,
		autoSaveDelay:       DefaultAutoSaveDelay,
		minAutoSaveInterval: DefaultMinAutoSaveInterval,
		compression:         persistence.CompressionZSTD,
		logger:              NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	graph := hnsw.New(opts.graphOptions...)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		path:    path,
		opts:    opts,
		graph:   graph,
		logger:  opts.logger,
		limiter: rate.NewLimiter(rate.Every(opts.minAutoSaveInterval), 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.InfoContext(ctx, "no snapshot found, starting empty", "filename", path)
		} else {
			// Start empty instead of failing open. The damaged file stays on
			// disk until the next save replaces it.
			s.logger.WarnContext(ctx, "snapshot unreadable, starting empty",
				"filename", path,
				"error", err,
			)
		}
	} else {
		s.logger.LogLoad(ctx, path, s.graph.Count())
	}

	return s, nil
}

func (s *Store) load() error {
	return persistence.LoadFromFile(s.path, func(r io.Reader) error {
		return persistence.ReadSnapshot(r, func(pr io.Reader) error {
			_, err := s.graph.ReadFrom(pr)
			return err
		})
	})
}

// Count returns the number of stored vectors. O(1).
func (s *Store) Count() int {
	return s.graph.Count()
}

// Contains reports whether key is present.
func (s *Store) Contains(key string) bool {
	return s.graph.Contains(key)
}

// Keys returns all stored keys. Order is unspecified.
func (s *Store) Keys() []string {
	return s.graph.Keys()
}

// Dimension returns the vector dimensionality, or 0 if no vector has fixed
// it yet.
func (s *Store) Dimension() int {
	return s.graph.Dimension()
}

// Upsert inserts a vector under key, replacing any previous vector stored
// under the same key.
func (s *Store) Upsert(ctx context.Context, key string, vector []float32) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.graph.Add(key, vector)
	s.logger.LogUpsert(ctx, key, len(vector), err)
	if err != nil {
		return err
	}

	s.markDirty()
	return nil
}

// UpsertBatch inserts multiple items. Items are applied in order; on the
// first failure the error is returned and already-applied items remain.
func (s *Store) UpsertBatch(ctx context.Context, items []Item) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			if i > 0 {
				s.markDirty()
			}
			return err
		}
		if err := s.graph.Add(item.Key, item.Vector); err != nil {
			if i > 0 {
				s.markDirty()
			}
			s.logger.LogUpsert(ctx, item.Key, len(item.Vector), err)
			return fmt.Errorf("upsert %q: %w", item.Key, err)
		}
	}

	if len(items) > 0 {
		s.markDirty()
	}
	s.logger.DebugContext(ctx, "batch upsert completed", "count", len(items))
	return nil
}

// Delete removes the vector stored under key. It reports whether the key
// was present.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	found := s.graph.Remove(key)
	s.logger.LogDelete(ctx, key, found)
	if found {
		s.markDirty()
	}
	return found, nil
}

// DeleteByPrefix removes every key that starts with prefix and returns how
// many were removed. With the "{documentId}_chunk_{index}" key convention,
// DeleteByPrefix(ctx, docID+"_chunk_") drops a whole document.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range s.graph.Keys() {
		if strings.HasPrefix(key, prefix) && s.graph.Remove(key) {
			removed++
		}
	}

	s.logger.DebugContext(ctx, "prefix delete completed",
		"prefix", prefix,
		"removed", removed,
	)
	if removed > 0 {
		s.markDirty()
	}
	return removed, nil
}

// Search returns up to k nearest neighbors of query, best first.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	hits, err := s.graph.Search(query, k, s.opts.efSearch)
	s.logger.LogSearch(ctx, k, len(hits), err)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Key: h.Key, Score: 1 - h.Distance}
	}
	return results, nil
}

// Save writes a snapshot immediately, regardless of the dirty state.
// Concurrent callers share a single write.
func (s *Store) Save(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.flush(ctx)
}

// flush saves and, if the write it joined had snapshotted the graph before
// this caller's mutations landed, saves once more so the caller's changes
// are on disk when flush returns.
func (s *Store) flush(ctx context.Context) error {
	if err := s.save(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	stillDirty := s.dirty
	s.mu.Unlock()

	if stillDirty {
		return s.save(ctx)
	}
	return nil
}

// Close flushes pending changes and shuts the store down. Further
// operations fail with ErrStoreClosed. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()

	// Wait out any background flush so no writer touches the file after
	// Close returns.
	s.saving.Wait()

	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()

	// flush joins any save a concurrent Save caller started and re-saves if
	// that snapshot predates the last mutation; no new mutations can arrive
	// once closed.
	if dirty {
		return s.flush(context.Background())
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// markDirty records a pending mutation and (re)arms the debounce timer, so
// the flush fires a quiet period after the last mutation.
func (s *Store) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true

	if s.opts.autoSaveDelay <= 0 || s.closed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.autoSaveDelay, s.autoFlush)
	} else {
		s.timer.Reset(s.opts.autoSaveDelay)
	}
}

// autoFlush runs on the debounce timer. The rate limiter spaces out disk
// writes under sustained mutation load; Close cancels the wait.
func (s *Store) autoFlush() {
	s.saving.Add(1)
	defer s.saving.Done()

	if err := s.limiter.Wait(s.ctx); err != nil {
		return
	}

	s.mu.Lock()
	skip := s.closed || !s.dirty
	s.mu.Unlock()
	if skip {
		return
	}

	// Error already logged inside save; the store stays dirty and the next
	// mutation re-arms the timer.
	_ = s.save(s.ctx)
}

func (s *Store) save(ctx context.Context) error {
	_, err, _ := s.sf.Do("save", func() (any, error) {
		// Clear before serializing: a mutation racing the snapshot re-marks
		// dirty and gets picked up by the next flush.
		s.mu.Lock()
		s.dirty = false
		s.mu.Unlock()

		err := persistence.SaveToFile(s.path, func(w io.Writer) error {
			return persistence.WriteSnapshot(w, s.opts.compression, func(pw io.Writer) error {
				_, err := s.graph.WriteTo(pw)
				return err
			})
		})
		if err != nil {
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		}

		s.logger.LogSnapshot(ctx, s.path, s.graph.Count(), err)
		return nil, err
	})
	return err
}
