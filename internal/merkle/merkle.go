package merkle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/storepeer/propagator/internal/digest"
	"github.com/storepeer/propagator/internal/external"
	"github.com/storepeer/propagator/internal/layout"
)

// ComputeRoot recomputes the Merkle root over an ordered sequence of hex
// leaf hashes using the standard binary paired-hash construction: pair
// adjacent leaves, hash their concatenated raw bytes, promote an unpaired
// trailing leaf unchanged, and repeat until one hash remains.
func ComputeRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return digest.Zero, nil
	}

	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return "", &ErrMalformed{Reason: "leaf is not valid hex"}
		}
		level[i] = b
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}

// Verifier validates root-commitment documents and per-file Merkle
// membership.
type Verifier struct {
	metadata external.MetadataModule
	foreign  external.ForeignTreeValidator
}

// NewVerifier builds a Verifier consulting the given external collaborators.
func NewVerifier(metadata external.MetadataModule, foreign external.ForeignTreeValidator) *Verifier {
	return &Verifier{metadata: metadata, foreign: foreign}
}

// ValidateRootCommitment checks that the document's declared root equals
// rootHash, that the declared root is reproducible from (or, if empty,
// consistent with) the leaves, and that rootHash is known to the store's
// external root history.
func (v *Verifier) ValidateRootCommitment(ctx context.Context, storeID, rootHash string, doc *Document) error {
	if doc.Root != rootHash {
		return &ErrMalformed{Reason: "document root does not match declared rootHash"}
	}

	if doc.LeavesEmpty {
		if rootHash != digest.Zero {
			return &ErrMalformed{Reason: "empty leaves require the all-zero root"}
		}
	} else {
		recomputed, err := ComputeRoot(doc.LeavesPresent)
		if err != nil {
			return err
		}
		if recomputed != rootHash {
			return &ErrMalformed{Reason: "recomputed Merkle root does not match declared rootHash"}
		}
	}

	return v.checkRootHistory(ctx, storeID, rootHash)
}

// checkRootHistory consults the external root history, retrying once with a
// forced cache refresh before rejecting.
func (v *Verifier) checkRootHistory(ctx context.Context, storeID, rootHash string) error {
	for attempt := 0; attempt < 2; attempt++ {
		roots, err := v.metadata.RootHistory(ctx, storeID, attempt > 0)
		if err != nil {
			return err
		}
		for _, r := range roots {
			if strings.EqualFold(r, rootHash) {
				return nil
			}
		}
	}
	return &ErrMalformed{Reason: "rootHash not present in store's root history"}
}

// VerifyBlobMembership checks a completed blob's observed digest against
// its content-addressed path and the session's accepted root-commitment
// document, deciding whether the blob may be persisted.
func (v *Verifier) VerifyBlobMembership(ctx context.Context, observedSHA256, dataPath string, doc *Document, rootHash, tmpDataDir string) error {
	expected, ok := layout.ExtractBlobDigest(dataPath)
	if !ok {
		return &ErrMalformed{Reason: "dataPath does not encode a valid digest"}
	}
	if !strings.EqualFold(observedSHA256, expected) {
		return &ErrMalformed{Reason: "uploaded content does not match its declared path digest"}
	}

	hexKey, ok := findFilesEntry(doc, expected)
	if !ok {
		return &ErrMalformed{Reason: "no files entry for this blob's digest"}
	}

	ok, err := v.foreign.ValidateForeignTreeMembership(ctx, hexKey, expected, doc, rootHash, tmpDataDir)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrMalformed{Reason: "blob is not a member of the committed tree"}
	}
	return nil
}

func findFilesEntry(doc *Document, expectedSHA256 string) (hexKey string, ok bool) {
	for k, f := range doc.Files {
		if strings.EqualFold(f.SHA256, expectedSHA256) {
			return k, true
		}
	}
	return "", false
}
