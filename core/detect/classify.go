// Package detect classifies enumerated file sources against their cached
// records, using the cheap size/mtime fingerprint before falling back to
// content hashing so unchanged files cost nothing beyond a stat.
package detect

import (
	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/content"
	"github.com/adalundhe/lorekeep/core/sources"
)

// =============================================================================
// Classification
// =============================================================================

// Classification is the outcome of comparing a file source to its cache record.
type Classification int

const (
	// Unseen means no cache record exists; the source needs summarization.
	Unseen Classification = iota

	// Unchanged means the size/mtime fingerprint matches; the file was not
	// read or hashed.
	Unchanged

	// MetadataOnly means the fingerprint moved but the content hash did not;
	// only the fingerprint needs refreshing, the summary is kept.
	MetadataOnly

	// Changed means the content hash differs; the source needs
	// re-summarization.
	Changed
)

// String returns a readable name for logging.
func (c Classification) String() string {
	switch c {
	case Unseen:
		return "unseen"
	case Unchanged:
		return "unchanged"
	case MetadataOnly:
		return "metadata_only"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Result
// =============================================================================

// Result carries the classification plus the data computed along the way, so
// the orchestrator never re-reads or re-hashes.
type Result struct {
	Class Classification

	// Hash is the normalized content digest. Empty for Unchanged, where the
	// file was never read.
	Hash string

	// Text is the raw file text. Empty unless Class is Unseen or Changed.
	Text string
}

// =============================================================================
// ClassifyFile
// =============================================================================

// ClassifyFile compares a file source to its cached record.
//
// The fast path matches both SizeBytes and MtimeNS and classifies Unchanged
// without touching file content. That comparison is equality, not ordering:
// an mtime that moved backwards while the size stayed equal still classifies
// as changed-fingerprint and falls through to hashing, but equal size with
// equal mtime is always Unchanged. Read or decode failures surface as errors
// for the caller to record per-source.
func ClassifyFile(rec *cache.Record, src sources.FileSource) (Result, error) {
	if rec != nil && rec.SizeBytes == src.SizeBytes && rec.MtimeNS == src.MtimeNS {
		return Result{Class: Unchanged}, nil
	}

	text, err := content.ReadFileText(src.AbsPath)
	if err != nil {
		return Result{}, err
	}

	hash := content.HashText(text)

	if rec == nil {
		return Result{Class: Unseen, Hash: hash, Text: text}, nil
	}

	if rec.ContentHash == hash {
		return Result{Class: MetadataOnly, Hash: hash}, nil
	}

	return Result{Class: Changed, Hash: hash, Text: text}, nil
}
