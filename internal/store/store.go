// Package store implements the commit-time merge of a session's temporary
// directory into a store's canonical directory tree: non-overwriting,
// content-addressed deduplication by filename. Grounded on perkeep's
// pkg/blobserver/localdisk receive.go, which renames a
// completed temp file into its final content-addressed path and treats an
// existing file at that path as "already have it" rather than an error.
package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/storepeer/propagator/internal/log"
)

// MergeNonOverwriting recursively copies every file under src into dst,
// creating missing parent directories, but never overwrites a file that
// already exists at the destination (commit's dedup semantics: the file
// names already ARE content hashes, so an existing file is definitionally
// the same content).
func MergeNonOverwriting(ctx context.Context, src, dst string) error {
	logger := log.WithComponent("store-merge")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		destPath := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(destPath, 0o755)
		}

		if _, err := os.Stat(destPath); err == nil {
			logger.Debug().Str("path", rel).Msg("skipping dedup: already present in store")
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		return copyFile(path, destPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Write to a temp file in the destination directory first so a crash or
	// concurrent reader never observes a partially-written committed blob,
	// then rename into place atomically.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".merge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return err
	}

	// Another committer may have raced us to the same content-addressed
	// name between the Stat check and here; os.Rename still succeeds and
	// silently overwrites with byte-identical content (same hash implies
	// same bytes), so the race is harmless.
	return os.Rename(tmpName, dst)
}

// Exists reports whether path exists under root.
func Exists(root, relPath string) bool {
	_, err := os.Stat(filepath.Join(root, relPath))
	return err == nil
}
