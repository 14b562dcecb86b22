// Package cache persists toolchain and dependency artifacts across pipeline
// runs. A Manager owns a live cache directory with single-writer /
// multi-reader discipline and persists it to a backing Store at the end of a
// run, after an unconditional permission-sanitation pass.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/crossgrid/internal/ctxlog"
)

// Kind distinguishes the artifact classes a cache entry can hold.
type Kind string

const (
	// KindToolchain covers compiler and sysroot artifacts for a triple.
	KindToolchain Kind = "toolchain"
	// KindDependency covers build dependency artifacts for a triple.
	KindDependency Kind = "dependency"
)

// Key identifies one cache entry: a target triple plus an artifact kind.
type Key struct {
	Triple string
	Kind   Kind
}

// String renders the key in its canonical "triple/kind" form.
func (k Key) String() string {
	return k.Triple + "/" + string(k.Kind)
}

// CommitMeta records which job produced a committed entry.
type CommitMeta struct {
	RunID string
	JobID string
}

// Manager coordinates access to the live cache directory. Restores are
// read-shared; commits and snapshots are serialized through a single writer.
type Manager struct {
	root  string
	store Store

	mu  sync.RWMutex
	idx index
}

// Open prepares the live cache directory under root, pulls any previously
// persisted state from the store, and loads the entry index. A store with
// nothing to offer leaves the cache cold; that is not an error.
func Open(ctx context.Context, root string, store Store) (*Manager, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	if err := store.Fetch(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to fetch cache from store: %w", err)
	}

	m := &Manager{root: root, store: store}
	idx, err := readIndex(m.indexPath())
	if err != nil {
		return nil, err
	}
	m.idx = idx
	logger.Debug("Cache opened.", "root", root, "entries", len(idx.Entries))
	return m, nil
}

// Root returns the live cache directory.
func (m *Manager) Root() string {
	return m.root
}

// EntryPath returns the directory a key's artifacts live in. The directory
// is not created; provisioning materializes into it before Commit.
func (m *Manager) EntryPath(key Key) string {
	return filepath.Join(m.root, key.Triple, string(key.Kind))
}

// Restore looks up a committed entry. A miss means cold cache and is not an
// error; provisioning proceeds from scratch. Concurrent restores are allowed.
func (m *Manager) Restore(ctx context.Context, key Key) (string, bool) {
	logger := ctxlog.FromContext(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.idx.has(key.String()) {
		logger.Debug("Cache miss.", "key", key.String())
		return "", false
	}
	path := m.EntryPath(key)
	if _, err := os.Stat(path); err != nil {
		// Index and directory disagree; treat as a miss rather than fail.
		logger.Warn("Cache index entry has no backing directory, treating as miss.", "key", key.String())
		return "", false
	}
	logger.Debug("Cache hit.", "key", key.String(), "path", path)
	return path, true
}

// Commit records a key as valid in the entry index. Callers must only commit
// entries whose owning job succeeded; a failed job's half-built artifacts
// must never be recorded. Commits are serialized.
func (m *Manager) Commit(ctx context.Context, key Key, meta CommitMeta) error {
	logger := ctxlog.FromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.EntryPath(key)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot commit cache entry %s: %w", key.String(), err)
	}

	m.idx.put(Entry{
		Key:         key.String(),
		RunID:       meta.RunID,
		JobID:       meta.JobID,
		CommittedAt: time.Now().UTC(),
	})
	if err := writeIndex(m.indexPath(), m.idx); err != nil {
		return err
	}
	logger.Debug("Cache entry committed.", "key", key.String(), "job_id", meta.JobID)
	return nil
}

// Snapshot sanitizes the whole live cache directory and persists it to the
// backing store. The sanitation pass runs unconditionally before every
// persist, regardless of which jobs succeeded, because the store may reject
// files unreadable by non-owners.
func (m *Manager) Snapshot(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.Debug("Sanitizing cache permissions before snapshot.", "root", m.root)
	if err := sanitize(m.root); err != nil {
		return fmt.Errorf("failed to sanitize cache permissions: %w", err)
	}
	if err := m.store.Persist(ctx, m.root); err != nil {
		return fmt.Errorf("failed to persist cache to store: %w", err)
	}
	logger.Info("Cache snapshot persisted.", "entries", len(m.idx.Entries))
	return nil
}

// indexPath returns the location of the on-disk entry index.
func (m *Manager) indexPath() string {
	return filepath.Join(m.root, "index.yaml")
}
