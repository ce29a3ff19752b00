// Package content provides content normalization and hashing for the Lorekeep
// knowledge-base engine. All change detection is based on digests of the
// canonical text form produced here, so identical semantic content must
// normalize identically across platforms and encodings.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// =============================================================================
// Normalization
// =============================================================================

// Normalize converts raw text to its canonical form:
//   - CRLF and bare CR line endings become a single LF
//   - trailing whitespace is stripped from every line
//   - leading and trailing blank lines are removed
func Normalize(text string) string {
	unified := unifyLineEndings(text)
	lines := strings.Split(unified, "\n")

	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	lines = trimBlankEdges(lines)
	return strings.Join(lines, "\n")
}

// unifyLineEndings converts CRLF and CR sequences to LF.
func unifyLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// trimBlankEdges removes leading and trailing all-blank lines.
func trimBlankEdges(lines []string) []string {
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}

	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}

	return lines[start:end]
}

// =============================================================================
// Hashing
// =============================================================================

// HashText computes the SHA-256 digest of the normalized form of text,
// returned as a lowercase hex string.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
