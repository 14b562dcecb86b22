package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingStore is an in-memory Store stub that counts persists.
type recordingStore struct {
	mu           sync.Mutex
	fetchCalls   int
	persistCalls int
}

func (s *recordingStore) Fetch(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	return nil
}

func (s *recordingStore) Persist(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistCalls++
	return nil
}

func (s *recordingStore) persists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistCalls
}

func openTestManager(t *testing.T) (*Manager, *recordingStore) {
	t.Helper()
	store := &recordingStore{}
	m, err := Open(context.Background(), filepath.Join(t.TempDir(), "live"), store)
	require.NoError(t, err)
	return m, store
}

// materialize creates a fake artifact tree under the entry path.
func materialize(t *testing.T, m *Manager, key Key) string {
	t.Helper()
	dir := m.EntryPath(key)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libcore.rlib"), []byte("sysroot bits"), 0o644))
	return dir
}

func TestRestore_MissIsColdCacheNotAnError(t *testing.T) {
	m, _ := openTestManager(t)

	_, ok := m.Restore(context.Background(), Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain})
	require.False(t, ok)
}

func TestCommitThenRestore(t *testing.T) {
	m, _ := openTestManager(t)
	key := Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain}
	dir := materialize(t, m, key)

	require.NoError(t, m.Commit(context.Background(), key, CommitMeta{RunID: "run-1", JobID: "job-1"}))

	got, ok := m.Restore(context.Background(), key)
	require.True(t, ok)
	require.Equal(t, dir, got)
}

func TestCommit_RequiresMaterializedEntry(t *testing.T) {
	m, _ := openTestManager(t)
	key := Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain}

	err := m.Commit(context.Background(), key, CommitMeta{})
	require.Error(t, err)
}

func TestCommit_SurvivesReopen(t *testing.T) {
	store := &recordingStore{}
	root := filepath.Join(t.TempDir(), "live")

	m, err := Open(context.Background(), root, store)
	require.NoError(t, err)
	key := Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain}
	materialize(t, m, key)
	require.NoError(t, m.Commit(context.Background(), key, CommitMeta{RunID: "run-1", JobID: "job-1"}))

	reopened, err := Open(context.Background(), root, store)
	require.NoError(t, err)
	_, ok := reopened.Restore(context.Background(), key)
	require.True(t, ok)
}

func TestSnapshot_SanitizesPermissionsBeforePersisting(t *testing.T) {
	m, store := openTestManager(t)
	key := Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain}
	dir := materialize(t, m, key)

	locked := filepath.Join(dir, "owner-only.bin")
	require.NoError(t, os.WriteFile(locked, []byte("secret toolchain bits"), 0o600))
	require.NoError(t, os.Chmod(dir, 0o700))

	require.NoError(t, m.Snapshot(context.Background()))
	require.Equal(t, 1, store.persists())

	info, err := os.Stat(locked)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm(), "files must gain world read bits")

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), dirInfo.Mode().Perm(), "directories must gain world read+execute bits")
}

func TestSnapshot_RunsEvenWithNoCommittedEntries(t *testing.T) {
	m, store := openTestManager(t)

	require.NoError(t, m.Snapshot(context.Background()))
	require.Equal(t, 1, store.persists())
}

func TestDirStore_RoundTrip(t *testing.T) {
	backing := filepath.Join(t.TempDir(), "store")
	store := NewDirStore(backing)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "triple", "toolchain"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "triple", "toolchain", "a.bin"), []byte("artifact"), 0o644))

	require.NoError(t, store.Persist(context.Background(), src))

	dst := t.TempDir()
	require.NoError(t, store.Fetch(context.Background(), dst))

	data, err := os.ReadFile(filepath.Join(dst, "triple", "toolchain", "a.bin"))
	require.NoError(t, err)
	require.Equal(t, "artifact", string(data))
}

func TestDirStore_FetchWithNoBackingIsCold(t *testing.T) {
	store := NewDirStore(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, store.Fetch(context.Background(), t.TempDir()))
}

func TestRestore_ConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	m, _ := openTestManager(t)
	key := Key{Triple: "thumbv7m-none-eabi", Kind: KindToolchain}
	materialize(t, m, key)
	require.NoError(t, m.Commit(context.Background(), key, CommitMeta{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := m.Restore(context.Background(), key)
			require.True(t, ok)
		}()
	}
	wg.Wait()
}
