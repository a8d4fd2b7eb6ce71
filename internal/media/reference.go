package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Reference creates the per-chat indirection that points at a canonical
// blob. Two implementations exist: symbolic links where the platform
// supports them, and physical copies as a fallback. The implementation is
// chosen once by a capability probe at startup, not per call.
type Reference interface {
	// Name identifies the mechanism: "symlink" or "copy".
	Name() string
	// Create makes ref point at (or contain) the canonical file.
	Create(canonical, ref string) error
	// IsLink reports whether path is an indirection created by this
	// mechanism rather than a standalone file.
	IsLink(path string) bool
}

type symlinkReference struct{}

func (symlinkReference) Name() string { return "symlink" }

func (symlinkReference) Create(canonical, ref string) error {
	// Relative target keeps the media tree relocatable.
	rel, err := filepath.Rel(filepath.Dir(ref), canonical)
	if err != nil {
		rel = canonical
	}
	if err := os.Symlink(rel, ref); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("symlink %q: %w", ref, err)
	}
	return nil
}

func (symlinkReference) IsLink(path string) bool {
	fi, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeSymlink != 0
}

type copyReference struct{}

func (copyReference) Name() string { return "copy" }

func (copyReference) Create(canonical, ref string) error {
	if _, err := os.Stat(ref); err == nil {
		return nil
	}
	src, err := os.Open(canonical)
	if err != nil {
		return fmt.Errorf("open canonical %q: %w", canonical, err)
	}
	defer src.Close()
	dst, err := os.Create(ref)
	if err != nil {
		return fmt.Errorf("create reference copy %q: %w", ref, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(ref)
		return fmt.Errorf("copy to reference %q: %w", ref, err)
	}
	return dst.Close()
}

// Copies are standalone files, never indirections.
func (copyReference) IsLink(string) bool { return false }

// ProbeReference picks the link mechanism by attempting a real symlink in
// dir. Platforms without symlink support (or restricted filesystems) fall
// back to copies.
func ProbeReference(dir string) Reference {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("Reference probe: cannot create media dir, assuming copy fallback", "dir", dir, "err", err)
		return copyReference{}
	}
	target := filepath.Join(dir, ".probe-target")
	link := filepath.Join(dir, ".probe-link")
	defer os.Remove(target)
	defer os.Remove(link)
	if err := os.WriteFile(target, []byte("probe"), 0o644); err != nil {
		return copyReference{}
	}
	if err := os.Symlink(target, link); err != nil {
		log.Info("Symlinks unavailable, media references will be copies", "err", err)
		return copyReference{}
	}
	return symlinkReference{}
}
