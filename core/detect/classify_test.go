package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/content"
	"github.com/adalundhe/lorekeep/core/sources"
)

// =============================================================================
// Test Helpers
// =============================================================================

func fileSourceFor(t *testing.T, path string) sources.FileSource {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)

	return sources.FileSource{
		RelPath:   filepath.Base(path),
		AbsPath:   path,
		SizeBytes: info.Size(),
		MtimeNS:   info.ModTime().UnixNano(),
	}
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// =============================================================================
// ClassifyFile Tests
// =============================================================================

func TestClassifyFile_UnseenReadsAndHashes(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "new.md", "fresh content")
	res, err := ClassifyFile(nil, fileSourceFor(t, path))
	require.NoError(t, err)

	assert.Equal(t, Unseen, res.Class)
	assert.Equal(t, content.HashText("fresh content"), res.Hash)
	assert.Equal(t, "fresh content", res.Text)
}

func TestClassifyFile_FingerprintMatchSkipsRead(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "same.md", "body")
	src := fileSourceFor(t, path)

	rec := &cache.Record{
		SourceID:  "same.md",
		Type:      cache.SourceFile,
		SizeBytes: src.SizeBytes,
		MtimeNS:   src.MtimeNS,
		// Deliberately wrong hash: the fingerprint fast path must win
		// without ever hashing the file.
		ContentHash: "stale-hash-never-checked",
	}

	res, err := ClassifyFile(rec, src)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Class)
	assert.Empty(t, res.Hash)
	assert.Empty(t, res.Text)
}

func TestClassifyFile_EqualSizeEarlierMtimeIsStillUnchangedOnlyOnExactMatch(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "restored.md", "body")
	src := fileSourceFor(t, path)

	// Backup-restore scenario: same size, different (earlier) mtime. The
	// fingerprint no longer matches exactly, so the detector falls through
	// to hashing and lands on MetadataOnly for identical content.
	rec := &cache.Record{
		SourceID:    "restored.md",
		Type:        cache.SourceFile,
		SizeBytes:   src.SizeBytes,
		MtimeNS:     src.MtimeNS + 5_000_000_000,
		ContentHash: content.HashText("body"),
	}

	res, err := ClassifyFile(rec, src)
	require.NoError(t, err)
	assert.Equal(t, MetadataOnly, res.Class)
}

func TestClassifyFile_WhitespaceOnlyEditIsMetadataOnly(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "touched.md", "line one  \nline two\r\n")
	src := fileSourceFor(t, path)

	rec := &cache.Record{
		SourceID:    "touched.md",
		Type:        cache.SourceFile,
		SizeBytes:   src.SizeBytes + 3, // fingerprint moved
		MtimeNS:     src.MtimeNS - 1,
		ContentHash: content.HashText("line one\nline two"),
	}

	res, err := ClassifyFile(rec, src)
	require.NoError(t, err)
	assert.Equal(t, MetadataOnly, res.Class)
	assert.Equal(t, rec.ContentHash, res.Hash)
	assert.Empty(t, res.Text, "summary-preserving updates never carry text")
}

func TestClassifyFile_ContentChangeRequiresSummarization(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "edited.md", "version two")
	src := fileSourceFor(t, path)

	rec := &cache.Record{
		SourceID:    "edited.md",
		Type:        cache.SourceFile,
		SizeBytes:   src.SizeBytes + 1,
		MtimeNS:     src.MtimeNS - 1,
		ContentHash: content.HashText("version one"),
	}

	res, err := ClassifyFile(rec, src)
	require.NoError(t, err)
	assert.Equal(t, Changed, res.Class)
	assert.Equal(t, content.HashText("version two"), res.Hash)
	assert.Equal(t, "version two", res.Text)
}

func TestClassifyFile_DecodeErrorSurfaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x81}, 0644))

	_, err := ClassifyFile(nil, fileSourceFor(t, path))
	assert.ErrorIs(t, err, content.ErrNotText)
}
