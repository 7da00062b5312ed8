package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeNonOverwritingCopiesNewFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data", "aa", "bb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data", "aa", "bb", "rest"), []byte("hello"), 0o644))

	require.NoError(t, MergeNonOverwriting(context.Background(), src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "data", "aa", "bb", "rest"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestMergeNonOverwritingPreservesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data", "x"), []byte("new"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "data", "x"), []byte("original"), 0o644))

	require.NoError(t, MergeNonOverwriting(context.Background(), src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "data", "x"))
	require.NoError(t, err)
	require.Equal(t, "original", string(got), "commit must not overwrite an existing content-addressed file")
}
