// Package index renders the human-readable knowledge-base index artifact as
// a pure projection of the cache: one block per source, identifier line first
// then the summary, blocks separated by blank lines. Rendering never calls
// the summarizer and always rewrites the full artifact.
package index

import (
	"sort"
	"strings"

	"github.com/adalundhe/lorekeep/core/cache"
)

// =============================================================================
// Rendering
// =============================================================================

// Render produces the index text for a cache. File-sourced entries come
// first, then URL-sourced entries, each group in ascending lexical order of
// source ID, so the output is byte-identical for identical cache contents.
func Render(c *cache.Cache) string {
	files := sortedIDs(c, cache.SourceFile)
	urls := sortedIDs(c, cache.SourceURL)

	blocks := make([]string, 0, len(files)+len(urls))
	for _, id := range append(files, urls...) {
		blocks = append(blocks, renderEntry(c.Get(id)))
	}

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// sortedIDs returns the source IDs of one type in ascending order.
func sortedIDs(c *cache.Cache, st cache.SourceType) []string {
	var ids []string
	for id, rec := range c.Sources {
		if rec.Type == st {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// renderEntry renders one identifier-plus-summary block.
func renderEntry(rec *cache.Record) string {
	summary := strings.TrimSpace(rec.SummaryText)
	if summary == "" {
		return rec.SourceID
	}
	return rec.SourceID + "\n" + summary
}

// WriteAtomic persists rendered index text with the same temp-file-and-rename
// contract as the cache artifact.
func WriteAtomic(path, text string) error {
	return cache.WriteAtomic(path, []byte(text))
}

// =============================================================================
// Parsing
// =============================================================================

// Entry is one parsed index block.
type Entry struct {
	// SourceID is the identifier line of the block.
	SourceID string

	// Description is the block body: the source's summary text.
	Description string
}

// ParseEntries reads rendered index text back into structured entries. It is
// the inverse of Render for well-formed artifacts and tolerates surrounding
// whitespace in hand-edited ones.
func ParseEntries(text string) []Entry {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var entries []Entry
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		lines := strings.SplitN(chunk, "\n", 2)
		entry := Entry{SourceID: strings.TrimSpace(lines[0])}
		if len(lines) == 2 {
			entry.Description = strings.TrimSpace(lines[1])
		}
		entries = append(entries, entry)
	}

	return entries
}
