// Package watch monitors the knowledge-base inputs for changes. DirWatcher
// follows the source tree recursively and emits debounced per-file events with
// root-relative paths; LinkWatcher follows the single link-list file. Events
// carry only identity, not content. The orchestrator re-reads the source of
// truth when it handles them, so a dropped or coalesced event costs freshness,
// never correctness.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce is the default quiet period before a path's event fires.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrRootNotDirectory indicates the configured source root exists but is
	// not a directory.
	ErrRootNotDirectory = errors.New("source root is not a directory")

	// ErrInvalidPattern indicates an exclude pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid exclude pattern")
)

// =============================================================================
// Events
// =============================================================================

// FileChange reports one settled change under the source root.
type FileChange struct {
	// RelPath is the changed file's path relative to the source root, with
	// forward slashes. It matches the source identity used by the cache.
	RelPath string

	// Removed is true when the path was deleted or renamed away. The
	// orchestrator confirms against the file system either way.
	Removed bool

	// Time is when the last raw event for this path arrived.
	Time time.Time
}

// =============================================================================
// DirWatcher
// =============================================================================

// DirConfig configures a DirWatcher.
type DirConfig struct {
	// Root is the source tree to watch recursively.
	Root string

	// ExcludePatterns are glob patterns matched against root-relative paths.
	ExcludePatterns []string

	// Debounce is the per-path quiet period. Zero selects DefaultDebounce.
	Debounce time.Duration
}

type pendingChange struct {
	change FileChange
	timer  *time.Timer
}

// DirWatcher watches the source tree and emits debounced FileChange events.
type DirWatcher struct {
	config   DirConfig
	watcher  *fsnotify.Watcher
	excludes []glob.Glob

	mu       sync.Mutex
	pending  map[string]*pendingChange
	events   chan FileChange
	stopOnce sync.Once
	stopped  bool
}

// NewDirWatcher creates a watcher for the source tree at config.Root. The
// root must exist as a directory before watching starts.
func NewDirWatcher(config DirConfig) (*DirWatcher, error) {
	info, err := os.Stat(config.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrRootNotDirectory
	}

	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	excludes, err := compilePatterns(config.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DirWatcher{
		config:   config,
		watcher:  watcher,
		excludes: excludes,
		pending:  make(map[string]*pendingChange),
	}, nil
}

// compilePatterns compiles exclusion globs with '/' as the separator.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Start begins watching and returns the event channel. The channel closes
// when the context is cancelled or Stop is called.
func (w *DirWatcher) Start(ctx context.Context) (<-chan FileChange, error) {
	w.events = make(chan FileChange, 64)

	if err := w.addTreeRecursive(w.config.Root); err != nil {
		close(w.events)
		return nil, err
	}

	go w.run(ctx)

	return w.events, nil
}

// addTreeRecursive registers a directory and every non-excluded subdirectory.
func (w *DirWatcher) addTreeRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// skipDir reports whether a directory should be left unwatched.
func (w *DirWatcher) skipDir(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	rel, ok := w.relPath(path)
	if !ok {
		return true
	}
	return w.isExcluded(rel)
}

// run drains fsnotify until the context ends or the watcher closes.
func (w *DirWatcher) run(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// handleEvent filters and debounces one raw fsnotify event.
func (w *DirWatcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.relPath(event.Name)
	if !ok || w.isHidden(rel) || w.isExcluded(rel) {
		return
	}

	// New directories must be registered before events inside them can
	// arrive; files created in the same burst are picked up by the walk.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addTreeRecursive(event.Name)
			return
		}
	}

	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !removed {
		// Directory writes and chmods are noise for indexing purposes.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return
		}
	}

	w.schedule(rel, removed)
}

// relPath converts an absolute event path to a slash-relative source path.
func (w *DirWatcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.config.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// isHidden reports whether any component of a relative path is a dotfile.
func (w *DirWatcher) isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// isExcluded matches a relative path against the exclusion globs.
func (w *DirWatcher) isExcluded(rel string) bool {
	for _, g := range w.excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// schedule arms or rearms the debounce timer for a path. A removal observed
// during the quiet period wins over an earlier write, matching the file's
// final state.
func (w *DirWatcher) schedule(rel string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	change := FileChange{RelPath: rel, Removed: removed, Time: time.Now()}

	if existing, ok := w.pending[rel]; ok {
		existing.timer.Stop()
		existing.change = change
		existing.timer = w.armTimer(rel)
		return
	}

	w.pending[rel] = &pendingChange{change: change, timer: w.armTimer(rel)}
}

// armTimer starts a debounce timer that emits the path's pending change.
func (w *DirWatcher) armTimer(rel string) *time.Timer {
	return time.AfterFunc(w.config.Debounce, func() {
		w.emit(rel)
	})
}

// emit delivers the settled change for a path and clears it from pending.
func (w *DirWatcher) emit(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	p, ok := w.pending[rel]
	if !ok {
		return
	}
	delete(w.pending, rel)

	select {
	case w.events <- p.change:
	default:
		// Receiver is behind; the next pass over this path will catch up.
	}
}

// Stop stops the watcher. Safe to call more than once.
func (w *DirWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingChange)
		w.mu.Unlock()

		w.watcher.Close()
	})
	return nil
}

// cleanup closes the event channel when the run loop exits.
func (w *DirWatcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingChange)
	}

	close(w.events)
}

// =============================================================================
// LinkWatcher
// =============================================================================

// LinkWatcher watches the link-list file and emits a debounced signal per
// settled edit. The parent directory is watched rather than the file itself
// so editors that replace the file via rename stay visible.
type LinkWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	events   chan struct{}
	stopOnce sync.Once
	stopped  bool
}

// NewLinkWatcher creates a watcher for the link list at path. The file itself
// may not exist yet; its directory must.
func NewLinkWatcher(path string, debounce time.Duration) (*LinkWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &LinkWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		watcher:  watcher,
	}, nil
}

// Start begins watching and returns the signal channel.
func (w *LinkWatcher) Start(ctx context.Context) (<-chan struct{}, error) {
	w.events = make(chan struct{}, 1)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		close(w.events)
		return nil, err
	}

	go w.run(ctx)

	return w.events, nil
}

func (w *LinkWatcher) run(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == w.path {
				w.schedule()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// schedule rearms the single debounce timer.
func (w *LinkWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.emit)
}

// emit delivers one signal; a pending signal already covers the edit burst.
func (w *LinkWatcher) emit() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- struct{}{}:
	default:
	}
}

// Stop stops the watcher. Safe to call more than once.
func (w *LinkWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		w.watcher.Close()
	})
	return nil
}

func (w *LinkWatcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
	}

	close(w.events)
}
