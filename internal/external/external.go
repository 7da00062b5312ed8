// Package external declares the interfaces for the collaborators this
// server depends on but does not implement: the signing/key library and
// the datastore metadata module. The propagation server depends only on
// these interfaces; a real
// deployment wires in the actual signing and metadata implementations,
// tests wire in fakes.
package external

import (
	"context"
	"errors"
)

// SignatureVerifier wraps the external signing library's
// verify_key_ownership_signature call.
type SignatureVerifier interface {
	// VerifyKeyOwnershipSignature reports whether signatureHex is a valid
	// signature by publicKeyHex over nonce.
	VerifyKeyOwnershipSignature(ctx context.Context, nonce, signatureHex, publicKeyHex string) (bool, error)
}

// KeyLibrary is the full external signing/key library surface: signature
// verification plus the write-permission check. Production code
// wires one concrete KeyLibrary implementation into both a
// SignatureVerifier-typed and an ownercache.MetaWritePermission-typed slot
// so each consumer depends only on the narrow interface it needs.
type KeyLibrary interface {
	SignatureVerifier
	HasMetaWritePermission(ctx context.Context, storeID, publicKey string) (bool, error)
}

// MetadataModule wraps the external datastore metadata module's
// get_root_history, generate_manifest, and fetch_coin_info calls.
type MetadataModule interface {
	// RootHistory returns the set of root hashes the metadata module
	// considers legitimate for storeID. When forceRefresh is true, the
	// implementation must bypass any internal cache and consult the
	// underlying source directly; callers set it on a retry after an
	// initial lookup came back without the root they expected.
	RootHistory(ctx context.Context, storeID string, forceRefresh bool) (roots []string, err error)

	// GenerateManifest asks the metadata module to (re)build manifest.dat
	// for storeID after a commit or abort.
	GenerateManifest(ctx context.Context, storeID string) error

	// CacheCreationHeight records the blockchain height at which storeID
	// was first observed, as part of commit's post-merge bookkeeping.
	CacheCreationHeight(ctx context.Context, storeID string) error
}

// ForeignTreeValidator is the external Merkle-tree membership check:
// "foreign" because the server did not build the tree, only
// verifies membership in it. tree and root are the session's accepted
// root-commitment document and its declared root hash, respectively; opaque
// interface{} keeps this package free of a dependency on the merkle
// package's concrete document type.
type ForeignTreeValidator interface {
	ValidateForeignTreeMembership(ctx context.Context, hexKey, expectedSHA256 string, tree interface{}, rootHash, tmpDataDir string) (bool, error)
}

// NoImpl satisfies KeyLibrary, MetadataModule, and ForeignTreeValidator by
// returning a not-implemented error from every call. A binary that has not
// been wired up with real collaborators links against NoImpl so it fails
// loudly at the call site instead of panicking on a nil interface.
type NoImpl struct{}

var (
	_ KeyLibrary           = NoImpl{}
	_ MetadataModule       = NoImpl{}
	_ ForeignTreeValidator = NoImpl{}
)

func (NoImpl) VerifyKeyOwnershipSignature(ctx context.Context, nonce, signatureHex, publicKeyHex string) (bool, error) {
	return false, errors.New("signing/key library not wired up")
}

func (NoImpl) HasMetaWritePermission(ctx context.Context, storeID, publicKey string) (bool, error) {
	return false, errors.New("signing/key library not wired up")
}

func (NoImpl) RootHistory(ctx context.Context, storeID string, forceRefresh bool) ([]string, error) {
	return nil, errors.New("datastore metadata module not wired up")
}

func (NoImpl) GenerateManifest(ctx context.Context, storeID string) error {
	return errors.New("datastore metadata module not wired up")
}

func (NoImpl) CacheCreationHeight(ctx context.Context, storeID string) error {
	return errors.New("datastore metadata module not wired up")
}

func (NoImpl) ValidateForeignTreeMembership(ctx context.Context, hexKey, expectedSHA256 string, tree interface{}, rootHash, tmpDataDir string) (bool, error) {
	return false, errors.New("foreign Merkle tree validator not wired up")
}
