// Package layout maps store/session/blob identifiers to deterministic
// filesystem paths, with no I/O beyond on-demand directory creation.
// Adapted from perkeep's pkg/blobserver/localdisk path.go (blobDirectory /
// blobPath sharded by the first bytes of the hex digest).
package layout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/storepeer/propagator/internal/digest"
)

// Layout computes paths rooted at a single base directory.
type Layout struct {
	root string
}

// New returns a Layout rooted at dir, creating dir if it does not exist.
func New(dir string) (*Layout, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Layout{root: dir}, nil
}

// Root is the base directory.
func (l *Layout) Root() string { return l.root }

// StoreDir is the directory of a store; the store exists iff this directory
// exists.
func (l *Layout) StoreDir(storeID string) string {
	return filepath.Join(l.root, "stores", storeID)
}

// StoreExists reports whether storeID has a directory on disk.
func (l *Layout) StoreExists(storeID string) bool {
	fi, err := os.Stat(l.StoreDir(storeID))
	return err == nil && fi.IsDir()
}

// BlobPath is the canonical content-addressed path for a blob with hex
// sha-256 digest h, relative to a store directory: data/<aa>/<bb>/<rest>.
func BlobPath(h string) string {
	if len(h) < 4 {
		// Defensive only for malformed callers; digest.Valid should be
		// checked by callers before reaching here.
		h = h + strings.Repeat("0", 4-len(h))
	}
	return filepath.Join("data", h[0:2], h[2:4], h[4:])
}

// RootCommitmentName is the basename of a root-commitment document.
func RootCommitmentName(rootHash string) string {
	return rootHash + ".dat"
}

// RootCommitmentPath is the store-relative path of a root-commitment
// document.
func RootCommitmentPath(rootHash string) string {
	return RootCommitmentName(rootHash)
}

// ManifestPath is the store-relative path of the append-only committed-root
// list.
func ManifestPath() string {
	return "manifest.dat"
}

// SessionTmpRoot is the base directory under which session temp directories
// are created.
func (l *Layout) SessionTmpRoot() string {
	return filepath.Join(l.root, "tmp", "sessions")
}

// ExtractBlobDigest recovers the expected sha-256 hex digest from a
// data-prefixed path of the form "data/<aa>/<bb>/<rest>" by stripping the
// leading "data" segment and all path separators and concatenating what's
// left.
func ExtractBlobDigest(dataPath string) (string, bool) {
	clean := filepath.ToSlash(filepath.Clean(dataPath))
	parts := strings.Split(clean, "/")
	if len(parts) == 0 || parts[0] != "data" {
		return "", false
	}
	var sb strings.Builder
	for _, p := range parts[1:] {
		sb.WriteString(p)
	}
	h, ok := digest.Canonicalize(sb.String())
	return h, ok
}

// IsDataPath reports whether p is rooted under the data/ prefix, meaning it
// refers to a content-addressed blob rather than a root-commitment or
// manifest file.
func IsDataPath(p string) bool {
	clean := filepath.ToSlash(filepath.Clean(p))
	return clean == "data" || strings.HasPrefix(clean, "data/")
}
