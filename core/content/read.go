package content

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

// ErrNotText indicates a file's bytes could not be decoded as UTF-8 text.
var ErrNotText = errors.New("file content is not valid utf-8 text")

// ReadFileText reads a file and returns its content as text.
// Returns ErrNotText (wrapped with the path) when the bytes are not valid
// UTF-8; callers treat that as a per-source failure, not a fatal one.
func ReadFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", path, ErrNotText)
	}

	return string(data), nil
}
