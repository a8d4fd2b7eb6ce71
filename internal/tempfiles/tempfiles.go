package tempfiles

import (
	"fmt"
	"os"
)

// Create makes a temp file in the provided directory, creating the
// directory if needed. Media downloads land here first so a partial write
// never appears at a canonical path.
func Create(dir string, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// Commit atomically renames the temp file into dst. First writer wins: if
// dst already exists, the temp file is discarded and the existing file is
// kept.
func Commit(tmpPath, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		Discard(tmpPath)
		return nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		// A concurrent writer may have renamed first; that race is benign.
		if _, statErr := os.Stat(dst); statErr == nil {
			Discard(tmpPath)
			return nil
		}
		return fmt.Errorf("commit %q: %w", dst, err)
	}
	return nil
}

// Discard removes a temp file, ignoring already-gone errors.
func Discard(tmpPath string) {
	_ = os.Remove(tmpPath)
}
