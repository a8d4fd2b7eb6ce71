// Package media is the content-addressed attachment store. One canonical
// blob per content ID lives under the shared directory; each chat's
// attachment directory holds references (symlinks, or copies on platforms
// without them) so it appears self-contained. Canonical blobs are retained
// indefinitely: references are pure indirections, so no reference counting
// is needed, and reclamation belongs to an offline GC utility.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/tempfiles"
)

// FetchFunc materializes attachment bytes at the given path.
type FetchFunc func(ctx context.Context, path string) error

// Store lays out and deduplicates attachment files on disk.
type Store struct {
	root  string
	dedup bool
	ref   Reference
}

// NewStore creates a store rooted at root. With dedup enabled the link
// mechanism is probed once here.
func NewStore(root string, dedup bool) *Store {
	s := &Store{root: root, dedup: dedup}
	if dedup {
		s.ref = ProbeReference(root)
	} else {
		s.ref = copyReference{}
	}
	return s
}

// Root returns the media root directory.
func (s *Store) Root() string { return s.root }

// ReferenceKind returns the active link mechanism name.
func (s *Store) ReferenceKind() string { return s.ref.Name() }

// ChatDir returns the per-chat reference directory.
func (s *Store) ChatDir(chatID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(chatID, 10))
}

// SharedDir returns the canonical blob directory.
func (s *Store) SharedDir() string {
	return filepath.Join(s.root, "_shared")
}

// CanonicalPath returns the canonical location for a content-addressed
// file name.
func (s *Store) CanonicalPath(fileName string) string {
	return filepath.Join(s.SharedDir(), fileName)
}

// ResolveOrFetch ensures the chat-visible path for fileName exists and
// returns it together with the blob size. When the canonical blob is
// absent, fetch materializes it via a temp file and an atomic rename, so
// a concurrent first writer always wins cleanly. With dedup disabled the
// file is fetched directly into the chat directory.
func (s *Store) ResolveOrFetch(ctx context.Context, chatID int64, fileName string, fetch FetchFunc) (string, int64, error) {
	chatDir := s.ChatDir(chatID)
	if err := os.MkdirAll(chatDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create chat media dir: %w", err)
	}
	refPath := filepath.Join(chatDir, fileName)

	if !s.dedup {
		if _, err := os.Stat(refPath); os.IsNotExist(err) {
			if err := s.fetchTo(ctx, refPath, fetch); err != nil {
				return "", 0, err
			}
		}
		size := fileSize(refPath)
		return refPath, size, nil
	}

	canonical := s.CanonicalPath(fileName)
	if _, err := os.Stat(canonical); os.IsNotExist(err) {
		if err := os.MkdirAll(s.SharedDir(), 0o755); err != nil {
			return "", 0, fmt.Errorf("create shared media dir: %w", err)
		}
		if err := s.fetchTo(ctx, canonical, fetch); err != nil {
			return "", 0, err
		}
	}
	if _, err := os.Lstat(refPath); os.IsNotExist(err) {
		if err := s.ref.Create(canonical, refPath); err != nil {
			return "", 0, fmt.Errorf("create reference for chat %d: %w", chatID, err)
		}
	}
	return refPath, fileSize(canonical), nil
}

// fetchTo downloads into a temp file next to dst and commits it with an
// atomic rename.
func (s *Store) fetchTo(ctx context.Context, dst string, fetch FetchFunc) error {
	tmp, err := tempfiles.Create(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	if err := fetch(ctx, tmpPath); err != nil {
		tempfiles.Discard(tmpPath)
		return fmt.Errorf("fetch %q: %w", filepath.Base(dst), err)
	}
	return tempfiles.Commit(tmpPath, dst)
}

// VerifyState is the outcome of checking one attachment on disk.
type VerifyState int

const (
	VerifyOK VerifyState = iota
	VerifyMissing
	VerifyCorrupt
)

func (v VerifyState) String() string {
	switch v {
	case VerifyOK:
		return "ok"
	case VerifyMissing:
		return "missing"
	default:
		return "corrupt"
	}
}

// Verify checks that path exists, is non-empty, and — when expectedSize
// is known — matches within 1% tolerance (encoding variations make exact
// matches unreliable). Symlinks are followed so a dangling reference
// counts as missing.
func (s *Store) Verify(path string, expectedSize int64) VerifyState {
	fi, err := os.Stat(path)
	if err != nil {
		return VerifyMissing
	}
	actual := fi.Size()
	if actual == 0 {
		return VerifyCorrupt
	}
	if expectedSize > 0 {
		diff := actual - expectedSize
		if diff < 0 {
			diff = -diff
		}
		if diff*100 > expectedSize {
			return VerifyCorrupt
		}
	}
	return VerifyOK
}

// Remove deletes a bad artifact ahead of a re-download. References and
// canonical blob are both removed so the fetch starts clean.
func (s *Store) Remove(chatID int64, fileName string) {
	refPath := filepath.Join(s.ChatDir(chatID), fileName)
	_ = os.Remove(refPath)
	if s.dedup {
		_ = os.Remove(s.CanonicalPath(fileName))
	}
}

// ReleaseStats summarizes a Release pass.
type ReleaseStats struct {
	Files      int
	Links      int
	FreedBytes int64
}

// Release removes one chat-side reference. Reference links are deleted
// without touching the canonical blob, which other chats may share; real
// files (dedup disabled, or copy fallback) are deleted and counted as
// freed bytes.
func (s *Store) Release(path string, stats *ReleaseStats) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if s.ref.IsLink(path) {
		if err := os.Remove(path); err != nil {
			return err
		}
		stats.Links++
		return nil
	}
	size := fi.Size()
	if err := os.Remove(path); err != nil {
		return err
	}
	stats.Files++
	stats.FreedBytes += size
	return nil
}

// RemoveChatDirIfEmpty cleans up an empty per-chat directory after a
// release pass.
func (s *Store) RemoveChatDirIfEmpty(chatID int64) {
	dir := s.ChatDir(chatID)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		log.Debug("Could not remove chat media dir", "dir", dir, "err", err)
	}
}

// ReleaseChatDir removes an entire chat media directory (explicit
// exclusion path). Canonical blobs under _shared are untouched.
func (s *Store) ReleaseChatDir(chatID int64) error {
	return os.RemoveAll(s.ChatDir(chatID))
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
