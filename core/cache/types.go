// Package cache defines the durable per-source metadata record of the
// Lorekeep knowledge-base engine and the store that persists it. The cache is
// the single source of truth for change detection and index rendering; it is
// mutated only by the update orchestrator while holding the store's lock.
package cache

import "time"

// SchemaVersion is the current on-disk cache schema version. Caches with a
// different version are treated as corrupt and rebuilt from scratch.
const SchemaVersion = 1

// =============================================================================
// SourceType
// =============================================================================

// SourceType identifies whether a record describes a local file or a URL.
type SourceType string

const (
	// SourceFile is a text file under the configured source root.
	SourceFile SourceType = "file"

	// SourceURL is a web page listed in the link list.
	SourceURL SourceType = "url"
)

// =============================================================================
// FetchStatus
// =============================================================================

// FetchStatus records the outcome of the most recent fetch of a URL source.
type FetchStatus string

const (
	// FetchSuccess means the server returned fresh content.
	FetchSuccess FetchStatus = "success"

	// FetchNotModified means the server confirmed the cached content is current.
	FetchNotModified FetchStatus = "not_modified"

	// FetchTimeout means the fetch exceeded its deadline.
	FetchTimeout FetchStatus = "timeout"

	// FetchError means the fetch failed for any other reason.
	FetchError FetchStatus = "error"
)

// =============================================================================
// Record
// =============================================================================

// Record holds the cached state of a single source. File and URL sources
// share identity, hash and summary fields; the remaining fields belong to one
// variant and stay zero for the other.
type Record struct {
	// SourceID is the stable identifier: the path relative to the source
	// root for files, or the exact URL string for link-list entries.
	SourceID string `json:"source_id"`

	// Type distinguishes the file and URL variants.
	Type SourceType `json:"source_type"`

	// ContentHash is the digest of the normalized content, empty only
	// transiently while a record is being created.
	ContentHash string `json:"content_hash,omitempty"`

	// SummaryText is the summarizer's description of the source. It excludes
	// the identifier line; the index generator prepends that.
	SummaryText string `json:"summary_text,omitempty"`

	// LastIndexedAt is when the record last contributed to the index.
	LastIndexedAt time.Time `json:"last_indexed_at"`

	// File variant: cheap change-detection fingerprint.
	RelPath   string `json:"rel_path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	MtimeNS   int64  `json:"mtime_ns,omitempty"`

	// URL variant: fetch bookkeeping. ETag and LastModified are pointers so
	// absence is distinguishable from an empty validator.
	LastFetchedAt       time.Time   `json:"last_fetched_at,omitempty"`
	ETag                *string     `json:"etag,omitempty"`
	LastModified        *string     `json:"last_modified,omitempty"`
	FetchStatus         FetchStatus `json:"fetch_status,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures,omitempty"`
	NextCheckAt         time.Time   `json:"next_check_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.ETag != nil {
		etag := *r.ETag
		out.ETag = &etag
	}
	if r.LastModified != nil {
		lm := *r.LastModified
		out.LastModified = &lm
	}
	return &out
}

// =============================================================================
// Cache
// =============================================================================

// Cache is the full persisted mapping of source IDs to records.
type Cache struct {
	// Version is the schema version the cache was written with.
	Version int `json:"schema_version"`

	// GeneratedAt is the UTC timestamp of the last persist.
	GeneratedAt time.Time `json:"generated_at"`

	// Sources maps source_id to its record.
	Sources map[string]*Record `json:"sources"`
}

// NewCache returns an empty cache at the current schema version.
func NewCache() *Cache {
	return &Cache{
		Version: SchemaVersion,
		Sources: make(map[string]*Record),
	}
}

// Get returns the record for a source ID, or nil if absent.
func (c *Cache) Get(sourceID string) *Record {
	return c.Sources[sourceID]
}

// Put inserts or replaces a record, keyed by its SourceID.
func (c *Cache) Put(rec *Record) {
	c.Sources[rec.SourceID] = rec
}

// Delete removes a record. Removing an absent ID is a no-op.
func (c *Cache) Delete(sourceID string) {
	delete(c.Sources, sourceID)
}

// Len returns the number of cached sources.
func (c *Cache) Len() int {
	return len(c.Sources)
}

// RecordsOfType returns all records of the given type, in map order.
func (c *Cache) RecordsOfType(st SourceType) []*Record {
	var out []*Record
	for _, rec := range c.Sources {
		if rec.Type == st {
			out = append(out, rec)
		}
	}
	return out
}
