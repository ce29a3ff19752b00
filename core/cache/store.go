package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrLockTimeout indicates the update lock could not be acquired before
	// the context deadline.
	ErrLockTimeout = errors.New("timed out acquiring cache update lock")
)

// lockRetryInterval is how often a blocked Lock call re-attempts the file lock.
const lockRetryInterval = 100 * time.Millisecond

// =============================================================================
// Store
// =============================================================================

// Store persists the cache artifact. Load tolerates a missing or corrupt file
// by returning an empty cache; Persist writes atomically via a temp file and
// rename so a crash mid-write never leaves a partial artifact.
//
// Lock provides the single point of mutual exclusion for orchestration
// passes: an in-process mutex serializes goroutines and a flock-based lock
// file serializes processes sharing the same cache path.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	flock *flock.Flock
}

// NewStore creates a store for the cache artifact at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
		flock:  flock.New(path + ".lock"),
	}
}

// Path returns the cache artifact path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// Locking
// =============================================================================

// Lock acquires the update lock, blocking until it is held or the context is
// done. The returned function releases the lock and must be called exactly
// once, after the pass's final persist.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	s.mu.Lock()

	if err := s.acquireFileLock(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	return func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("cache lock release failed", "path", s.flock.Path(), "error", err)
		}
		s.mu.Unlock()
	}, nil
}

// acquireFileLock polls the flock until acquired or the context ends. The
// cache directory is created first: on a fresh install the lock file's parent
// does not exist yet, and the first pass must still be able to lock.
func (s *Store) acquireFileLock(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", dir, err)
	}

	for {
		locked, err := s.flock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire cache lock: %w", err)
		}
		if locked {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrLockTimeout, s.flock.Path())
		case <-time.After(lockRetryInterval):
		}
	}
}

// =============================================================================
// Load
// =============================================================================

// Load reads the cache artifact. A missing, unreadable or corrupt file yields
// an empty cache and a warning rather than an error: availability over
// purity, at the cost of a full re-summarization.
func (s *Store) Load() *Cache {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache unreadable, starting empty", "path", s.path, "error", err)
		}
		return NewCache()
	}

	c, err := decode(data)
	if err != nil {
		s.logger.Warn("cache corrupt, starting empty", "path", s.path, "error", err)
		return NewCache()
	}

	return c
}

// decode parses and validates a serialized cache.
func decode(data []byte) (*Cache, error) {
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cache: %w", err)
	}

	if c.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported cache schema version %d", c.Version)
	}

	if c.Sources == nil {
		c.Sources = make(map[string]*Record)
	}

	// Keys and embedded IDs must agree; a mismatch means a hand-edited or
	// damaged artifact.
	for id, rec := range c.Sources {
		if rec == nil || rec.SourceID != id {
			return nil, fmt.Errorf("cache record key mismatch for %q", id)
		}
	}

	return &c, nil
}

// =============================================================================
// Persist
// =============================================================================

// Persist writes the cache atomically: serialize, write to a uniquely named
// temp file in the target directory, then rename over the target path.
func (s *Store) Persist(c *Cache) error {
	c.Version = SchemaVersion
	c.GeneratedAt = time.Now().UTC()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize cache: %w", err)
	}

	return WriteAtomic(s.path, data)
}

// WriteAtomic writes data to path via a temp file and rename in the same
// directory. Shared by the cache store and the index generator so both
// artifacts get identical crash semantics.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}

	return nil
}
