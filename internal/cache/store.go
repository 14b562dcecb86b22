package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is the persistent storage boundary behind the cache. Fetch populates
// the live cache directory from storage at the start of a run; Persist
// uploads it at the end. A store with no prior state fetches nothing and
// returns nil: that is a cold cache, not an error.
type Store interface {
	Fetch(ctx context.Context, root string) error
	Persist(ctx context.Context, root string) error
}

// DirStore is a Store backed by a plain directory, e.g. a mounted volume the
// CI host preserves across runs.
type DirStore struct {
	// Backing is the persistent directory mirrored into and out of the
	// live cache root.
	Backing string
}

// NewDirStore creates a directory-backed store.
func NewDirStore(backing string) *DirStore {
	return &DirStore{Backing: backing}
}

// Fetch implements Store by copying the backing tree into root. A missing
// backing directory leaves the cache cold.
func (s *DirStore) Fetch(ctx context.Context, root string) error {
	if _, err := os.Stat(s.Backing); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to stat backing directory: %w", err)
	}
	return copyTree(ctx, s.Backing, root)
}

// Persist implements Store by mirroring root into the backing directory.
func (s *DirStore) Persist(ctx context.Context, root string) error {
	if err := os.MkdirAll(s.Backing, 0o755); err != nil {
		return fmt.Errorf("failed to create backing directory: %w", err)
	}
	return copyTree(ctx, root, s.Backing)
}

// copyTree copies src into dst, overwriting existing files. It checks the
// context between entries so a cancelled persist stops promptly.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// copyFile copies a single regular file, replacing any existing target.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
