// Package search provides full-text search over the generated knowledge-base
// index. Entries are small (a source identifier and a short description), so
// the Bleve index is rebuilt from the index artifact rather than maintained
// incrementally.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/adalundhe/lorekeep/core/index"
)

var (
	// ErrIndexClosed indicates an operation on a closed search index.
	ErrIndexClosed = errors.New("search index is closed")

	// ErrEmptyQuery indicates a search with no query text.
	ErrEmptyQuery = errors.New("search query cannot be empty")
)

// DefaultLimit bounds result sets when the caller does not say otherwise.
const DefaultLimit = 10

// =============================================================================
// Types
// =============================================================================

// document is the shape stored in Bleve for one knowledge-base entry.
type document struct {
	SourceID    string `json:"source_id"`
	Description string `json:"description"`
}

// Hit is one scored search result.
type Hit struct {
	SourceID    string
	Description string
	Score       float64
}

// Result holds one query's hits and totals.
type Result struct {
	Hits      []Hit
	TotalHits int64
	Took      time.Duration
}

// =============================================================================
// Index
// =============================================================================

// Index wraps a Bleve index over knowledge-base entries.
type Index struct {
	path string

	mu     sync.RWMutex
	idx    bleve.Index
	closed bool
}

// Open opens or creates the search index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
	}

	return &Index{path: path, idx: idx}, nil
}

// buildMapping maps source identifiers as exact keywords and descriptions
// through the English analyzer.
func buildMapping() mapping.IndexMapping {
	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name

	descField := bleve.NewTextFieldMapping()
	descField.Analyzer = en.AnalyzerName

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("source_id", idField)
	doc.AddFieldMappingsAt("description", descField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// Rebuild replaces the index contents with the given entries. Stale documents
// are removed by deleting everything absent from the new entry set.
func (i *Index) Rebuild(ctx context.Context, entries []index.Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrIndexClosed
	}

	present := make(map[string]struct{}, len(entries))
	batch := i.idx.NewBatch()

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		present[entry.SourceID] = struct{}{}
		if err := batch.Index(entry.SourceID, document{
			SourceID:    entry.SourceID,
			Description: entry.Description,
		}); err != nil {
			return fmt.Errorf("index entry %q: %w", entry.SourceID, err)
		}
	}

	stale, err := i.staleIDs(present)
	if err != nil {
		return err
	}
	for _, id := range stale {
		batch.Delete(id)
	}

	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("commit search batch: %w", err)
	}

	return nil
}

// staleIDs lists indexed document IDs missing from the new entry set.
func (i *Index) staleIDs(present map[string]struct{}) ([]string, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 10000, 0, false)

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("enumerate indexed entries: %w", err)
	}

	var stale []string
	for _, hit := range res.Hits {
		if _, ok := present[hit.ID]; !ok {
			stale = append(stale, hit.ID)
		}
	}

	return stale, nil
}

// Query runs a query-string search and returns scored hits.
func (i *Index) Query(ctx context.Context, query string, limit int) (*Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrIndexClosed
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"source_id", "description"}

	start := time.Now()
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, Hit{
			SourceID:    hit.ID,
			Description: stringField(hit.Fields, "description"),
			Score:       hit.Score,
		})
	}

	return &Result{
		Hits:      hits,
		TotalHits: int64(res.Total),
		Took:      time.Since(start),
	}, nil
}

// Count returns the number of indexed entries.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return 0, ErrIndexClosed
	}

	return i.idx.DocCount()
}

// Close flushes and closes the index. Safe to call on a closed index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}

	i.closed = true
	return i.idx.Close()
}

// Destroy closes the index and removes its files.
func (i *Index) Destroy() error {
	if err := i.Close(); err != nil {
		return err
	}
	return os.RemoveAll(i.path)
}

// stringField pulls a string out of a Bleve stored-field map.
func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
