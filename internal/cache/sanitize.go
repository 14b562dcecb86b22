package cache

import (
	"io/fs"
	"os"
	"path/filepath"
)

// sanitize normalizes permissions across the cache tree so the backing store
// accepts every file: directories gain world read+execute, files gain world
// read. Owner bits are never removed.
func sanitize(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		perm := info.Mode().Perm()
		want := perm | 0o444
		if d.IsDir() {
			want = perm | 0o555
		}
		if want == perm {
			return nil
		}
		return os.Chmod(path, want)
	})
}
