// Package sources enumerates the current set of knowledge-base sources: text
// files under the source root and URLs listed in the link list. Enumeration
// is a pure snapshot; it never reads or mutates the cache.
package sources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidExclude indicates an exclude pattern could not be compiled.
var ErrInvalidExclude = errors.New("invalid exclude pattern")

// =============================================================================
// FileSource
// =============================================================================

// FileSource describes one enumerated file with its change-detection
// fingerprint captured at enumeration time.
type FileSource struct {
	// RelPath is the source identifier: the slash-separated path relative
	// to the source root.
	RelPath string

	// AbsPath is the absolute filesystem path.
	AbsPath string

	// SizeBytes and MtimeNS form the cheap fingerprint used to skip
	// hashing unchanged files.
	SizeBytes int64
	MtimeNS   int64
}

// =============================================================================
// Enumerator
// =============================================================================

// Enumerator lists file and URL sources for the engine.
type Enumerator struct {
	root      string
	linksPath string
	excludes  []glob.Glob
}

// NewEnumerator creates an enumerator for the given source root and link-list
// path. Exclude patterns use glob syntax with '/' as the separator and are
// matched against relative paths and path base names.
func NewEnumerator(root, linksPath string, excludePatterns []string) (*Enumerator, error) {
	excludes := make([]glob.Glob, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidExclude, pattern)
		}
		excludes = append(excludes, g)
	}

	return &Enumerator{
		root:      root,
		linksPath: linksPath,
		excludes:  excludes,
	}, nil
}

// Root returns the source root directory.
func (e *Enumerator) Root() string {
	return e.root
}

// =============================================================================
// File Enumeration
// =============================================================================

// ListFiles walks the source root and returns every regular, non-hidden,
// non-excluded file with its fingerprint. A missing root yields an empty
// list: a knowledge base with no documents is valid.
func (e *Enumerator) ListFiles() ([]FileSource, error) {
	var out []FileSource

	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == e.root {
				return filepath.SkipAll
			}
			return nil // unreadable subtree: skip, do not abort the walk
		}

		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if isHidden(rel) || e.isExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || !info.Mode().IsRegular() {
			return nil
		}

		out = append(out, FileSource{
			RelPath:   rel,
			AbsPath:   path,
			SizeBytes: info.Size(),
			MtimeNS:   info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", e.root, err)
	}

	return out, nil
}

// isHidden reports whether any component of a relative path starts with a dot.
func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// isExcluded checks a relative path against the compiled exclude patterns.
func (e *Enumerator) isExcluded(rel string) bool {
	base := filepath.Base(rel)
	for _, g := range e.excludes {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// =============================================================================
// URL Enumeration
// =============================================================================

// ListURLs reads the link list and returns every non-empty, non-comment line
// verbatim. URLs are identified by their exact text, so trailing-slash
// variants are distinct sources. A missing link list yields an empty list.
func (e *Enumerator) ListURLs() ([]string, error) {
	data, err := os.ReadFile(e.linksPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read link list %s: %w", e.linksPath, err)
	}

	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}

	return urls, nil
}
