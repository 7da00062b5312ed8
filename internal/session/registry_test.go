package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateGetDestroy(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), time.Minute)
	require.NoError(t, err)

	s, err := r.Create("store1")
	require.NoError(t, err)
	require.DirExists(t, s.TmpDir)

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	require.Equal(t, s, got)

	require.True(t, r.Destroy(s.ID))
	require.NoDirExists(t, s.TmpDir)

	_, ok = r.Get(s.ID)
	require.False(t, ok)
}

func TestDestroyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), time.Minute)
	require.NoError(t, err)

	s, err := r.Create("store1")
	require.NoError(t, err)

	require.True(t, r.Destroy(s.ID))
	require.False(t, r.Destroy(s.ID))
	require.False(t, r.Destroy("never-existed"))
}

func TestSessionExpiresAndDestroysTempDir(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), 20*time.Millisecond)
	require.NoError(t, err)

	s, err := r.Create("store1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := r.Get(s.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	require.NoDirExists(t, s.TmpDir)
}

func TestBumpExtendsDeadline(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), 60*time.Millisecond)
	require.NoError(t, err)

	s, err := r.Create("store1")
	require.NoError(t, err)

	// Keep bumping for longer than the TTL; the session must survive.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		r.Bump(s.ID)
		time.Sleep(10 * time.Millisecond)
	}
	_, ok := r.Get(s.ID)
	require.True(t, ok, "repeated bumping should keep the session alive past its base TTL")
}

func TestSetRootHashIsImmutable(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), time.Minute)
	require.NoError(t, err)
	s, err := r.Create("store1")
	require.NoError(t, err)

	require.NoError(t, s.SetRootHash("aaaa"))
	require.NoError(t, s.SetRootHash("aaaa")) // idempotent re-set of same value
	require.Error(t, s.SetRootHash("bbbb"))
	require.Equal(t, "aaaa", s.RootHash())
}

func TestDestroyAllRemovesEveryLiveSession(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "sessions"), time.Minute)
	require.NoError(t, err)

	s1, err := r.Create("store1")
	require.NoError(t, err)
	s2, err := r.Create("store2")
	require.NoError(t, err)

	r.DestroyAll()

	require.Equal(t, 0, r.Len())
	require.NoDirExists(t, s1.TmpDir)
	require.NoDirExists(t, s2.TmpDir)
}

func TestCleanStaleTempDirsRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	tmpRoot := filepath.Join(dir, "sessions")
	require.NoError(t, os.MkdirAll(filepath.Join(tmpRoot, "orphan-from-crash"), 0o755))

	r, err := New(tmpRoot, time.Minute)
	require.NoError(t, err)

	s, err := r.Create("store1")
	require.NoError(t, err)

	require.NoError(t, r.CleanStaleTempDirs())
	require.NoDirExists(t, filepath.Join(tmpRoot, "orphan-from-crash"))
	require.DirExists(t, s.TmpDir)
}
