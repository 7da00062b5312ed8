// Package upload implements the HEAD/POST/PUT/POST/POST upload protocol
// engine: start a session, issue per-file nonces, accept PUTs under
// signature and Merkle verification, and commit or abort. Grounded on
// perkeep's pkg/blobserver/handlers (CreateBatchUploadHandler,
// CreatePutUploadHandler) generalized from single-blob PUT to a multi-step
// session protocol, and on the streaming pipeline shape of localdisk's
// receive.go (hash while writing, reject on mismatch before the file is
// considered durable).
package upload

import (
	"compress/gzip"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/storepeer/propagator/internal/apierr"
	"github.com/storepeer/propagator/internal/digest"
	"github.com/storepeer/propagator/internal/external"
	"github.com/storepeer/propagator/internal/hashstream"
	"github.com/storepeer/propagator/internal/layout"
	"github.com/storepeer/propagator/internal/log"
	"github.com/storepeer/propagator/internal/merkle"
	"github.com/storepeer/propagator/internal/metrics"
	"github.com/storepeer/propagator/internal/noncecache"
	"github.com/storepeer/propagator/internal/ownercache"
	"github.com/storepeer/propagator/internal/session"
	"github.com/storepeer/propagator/internal/store"
)

// OwnerCredentials are the server-configured Basic-Auth credentials
// required to create a store that does not yet exist.
type OwnerCredentials struct {
	Username, Password string
}

func (c OwnerCredentials) matches(user, pass string) bool {
	return subtle.ConstantTimeCompare([]byte(user), []byte(c.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password)) == 1
}

// Engine implements the upload protocol's HTTP handlers.
type Engine struct {
	Layout    *layout.Layout
	Registry  *session.Registry
	Nonces    *noncecache.Cache
	Owners    *ownercache.Cache
	Signer    external.SignatureVerifier
	Metadata  external.MetadataModule
	Merkle    *merkle.Verifier
	OwnerCred OwnerCredentials
	Metrics   *metrics.Counters

	// BumpInterval bounds how often a streaming PUT's chunk observer is
	// allowed to call Registry.Bump; see hashstream.ObserveReader.
	BumpInterval time.Duration

	logger zerolog.Logger
}

// NewEngine builds an Engine, defaulting BumpInterval to once per second
// (design note: "bounding bump frequency ... is permitted and encouraged").
func NewEngine(l *layout.Layout, reg *session.Registry, nonces *noncecache.Cache, owners *ownercache.Cache, signer external.SignatureVerifier, md external.MetadataModule, mv *merkle.Verifier, cred OwnerCredentials) *Engine {
	return &Engine{
		Layout:       l,
		Registry:     reg,
		Nonces:       nonces,
		Owners:       owners,
		Signer:       signer,
		Metadata:     md,
		Merkle:       mv,
		OwnerCred:    cred,
		Metrics:      metrics.New(),
		BumpInterval: time.Second,
		logger:       log.WithComponent("upload-engine"),
	}
}

func (e *Engine) incUploadsStarted() {
	if e.Metrics != nil {
		e.Metrics.IncUploadsStarted()
	}
}

func (e *Engine) incUploadsCommitted() {
	if e.Metrics != nil {
		e.Metrics.IncUploadsCommitted()
	}
}

func (e *Engine) incUploadsAborted() {
	if e.Metrics != nil {
		e.Metrics.IncUploadsAborted()
	}
}

func (e *Engine) incNonceHit() {
	if e.Metrics != nil {
		e.Metrics.IncNonceHits()
	}
}

func (e *Engine) incNonceMiss() {
	if e.Metrics != nil {
		e.Metrics.IncNonceMisses()
	}
}

func (e *Engine) addBytesReceived(n int64) {
	if e.Metrics != nil {
		e.Metrics.AddBytesReceived(n)
	}
}

// StoreExists handles HEAD /{storeId}.
func (e *Engine) StoreExists(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	exists := e.Layout.StoreExists(storeID)
	w.Header().Set("x-store-exists", boolHeader(exists))

	if hash := r.URL.Query().Get("hasRootHash"); hash != "" {
		h, ok := digest.Canonicalize(hash)
		has := ok && exists && fileExists(filepath.Join(e.Layout.StoreDir(storeID), layout.RootCommitmentPath(h)))
		w.Header().Set("x-has-root-hash", boolHeader(has))
	}
	w.WriteHeader(http.StatusOK)
}

// StartUpload handles POST /upload/{storeId}.
func (e *Engine) StartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID := chi.URLParam(r, "storeId")
	logger := log.WithStore(e.logger, storeID)

	if !e.Layout.StoreExists(storeID) {
		user, pass, ok := r.BasicAuth()
		if !ok || !e.OwnerCred.matches(user, pass) {
			apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "owner credentials required to create a new store"))
			return
		}
	}

	part, filename, err := firstMultipartFile(r)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "expected multipart/form-data with one .dat file: %v", err))
		return
	}
	defer part.Close()

	rootHash := strings.TrimSuffix(filename, ".dat")
	if !strings.HasSuffix(filename, ".dat") || !digest.Valid(rootHash) {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "uploaded file must be named <64-hex rootHash>.dat"))
		return
	}

	if e.Layout.StoreExists(storeID) && fileExists(filepath.Join(e.Layout.StoreDir(storeID), layout.RootCommitmentPath(rootHash))) {
		apierr.WriteJSON(w, apierr.New(apierr.Conflict, "root commitment %s already committed", rootHash))
		return
	}

	sess, err := e.Registry.Create(storeID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to create session"))
		return
	}

	destPath := filepath.Join(sess.TmpDir, filename)
	if err := streamToFile(destPath, part); err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to stage root commitment"))
		return
	}

	raw, err := os.ReadFile(destPath)
	if err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to read staged root commitment"))
		return
	}
	doc, err := merkle.Parse(raw)
	if err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, err, "invalid root commitment"))
		return
	}
	if err := e.Merkle.ValidateRootCommitment(ctx, storeID, rootHash, doc); err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, err, "root commitment failed verification"))
		return
	}

	if err := sess.SetRootHash(rootHash); err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to record rootHash"))
		return
	}

	e.incUploadsStarted()
	logger.Info().Str("session_id", sess.ID).Str("root_hash", rootHash).Msg("upload session started")
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

// IssueNonce handles HEAD /upload/{storeId}/{sessionId}/*.
func (e *Engine) IssueNonce(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	sessionID := chi.URLParam(r, "sessionId")
	filename := chi.URLParam(r, "*")

	sess, ok := e.Registry.Get(sessionID)
	if !ok || sess.StoreID != storeID {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	inTmp := fileExists(filepath.Join(sess.TmpDir, filename))
	inStore := fileExists(filepath.Join(e.Layout.StoreDir(storeID), filename))
	exists := inTmp || inStore
	w.Header().Set("x-file-exists", boolHeader(exists))

	if !exists {
		nonce, err := e.Nonces.Issue(noncecache.Key(storeID, sessionID, filename))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("x-nonce", nonce)
	}
	w.WriteHeader(http.StatusOK)
}

// PutFile handles PUT /upload/{storeId}/{sessionId}/*.
func (e *Engine) PutFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID := chi.URLParam(r, "storeId")
	sessionID := chi.URLParam(r, "sessionId")
	filename := chi.URLParam(r, "*")

	nonce := r.Header.Get("x-nonce")
	publicKey := r.Header.Get("x-public-key")
	sig := r.Header.Get("x-key-ownership-sig")
	if nonce == "" || publicKey == "" || sig == "" {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "x-nonce, x-public-key, and x-key-ownership-sig are required"))
		return
	}

	nonceKey := noncecache.Key(storeID, sessionID, filename)
	if !e.Nonces.ValidateAndConsume(nonceKey, nonce) {
		e.incNonceMiss()
		apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "invalid or expired nonce"))
		return
	}
	e.incNonceHit()

	sigOK, err := e.Signer.VerifyKeyOwnershipSignature(ctx, nonce, sig, publicKey)
	if err != nil || !sigOK {
		apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "invalid key ownership signature"))
		return
	}

	sess, ok := e.Registry.Get(sessionID)
	if !ok || sess.StoreID != storeID {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "unknown session"))
		return
	}

	allowed, err := e.Owners.IsOwner(ctx, publicKey, storeID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "owner permission check failed"))
		return
	}
	if !allowed {
		apierr.WriteJSON(w, apierr.New(apierr.Forbidden, "signer lacks write permission for this store"))
		return
	}

	if err := e.stream(ctx, sess, filename, publicKey, r.Body); err != nil {
		e.Registry.Destroy(sess.ID)
		apierr.WriteJSON(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// stream implements the PUT body pipeline: observe (bump) -> hash -> optional
// gzip -> file. Hashing happens on the uncompressed bytes so the resulting
// digest matches the content-addressed path's declared sha-256, with gzip
// applied only to what actually lands on disk. Then post-stream Merkle
// verification runs for data/ paths.
func (e *Engine) stream(ctx context.Context, sess *session.Session, filename, publicKey string, body io.Reader) error {
	destPath := filepath.Join(sess.TmpDir, filename)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to create destination directory")
	}

	f, err := os.Create(destPath)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to create destination file")
	}
	defer f.Close()

	observed := hashstream.NewObserveReader(body, e.BumpInterval.Nanoseconds(), func() int64 { return time.Now().UnixNano() }, func() {
		e.Registry.Bump(sess.ID)
		e.Owners.Bump(publicKey, sess.StoreID)
	})

	isData := layout.IsDataPath(filename)

	var dest io.Writer = f
	var gz *gzip.Writer
	if isData {
		gz = gzip.NewWriter(f)
		dest = gz
	}
	hw := hashstream.NewSHA256(dest)

	written, err := io.Copy(hw, observed)
	e.addBytesReceived(written)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "upload stream failed")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return apierr.Wrap(apierr.Internal, err, "failed to finalize compressed stream")
		}
	}
	if err := f.Sync(); err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to sync uploaded file")
	}

	if !isData {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(sess.TmpDir, layout.RootCommitmentName(sess.RootHash())))
	if err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "session has no accepted root commitment")
	}
	doc, err := merkle.Parse(raw)
	if err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "session's root commitment is no longer valid")
	}

	if err := e.Merkle.VerifyBlobMembership(ctx, hw.SumHex(), filename, doc, sess.RootHash(), sess.TmpDir); err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "uploaded blob failed integrity verification")
	}
	return nil
}

// Commit handles POST /commit/{storeId}/{sessionId}.
func (e *Engine) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID := chi.URLParam(r, "storeId")
	sessionID := chi.URLParam(r, "sessionId")

	sess, ok := e.Registry.Get(sessionID)
	if !ok || sess.StoreID != storeID {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "unknown session"))
		return
	}
	defer e.Registry.Destroy(sess.ID)

	rootHash := sess.RootHash()
	if rootHash == "" {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "session has no accepted root commitment"))
		return
	}
	datPath := filepath.Join(sess.TmpDir, layout.RootCommitmentName(rootHash))
	if !fileExists(datPath) {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "root commitment is not present in the session"))
		return
	}

	raw, err := os.ReadFile(datPath)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to read root commitment"))
		return
	}
	doc, err := merkle.Parse(raw)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, err, "invalid root commitment"))
		return
	}

	storeDir := e.Layout.StoreDir(storeID)
	for key, f := range doc.Files {
		rel := layout.BlobPath(f.SHA256)
		if !fileExists(filepath.Join(sess.TmpDir, rel)) && !fileExists(filepath.Join(storeDir, rel)) {
			apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "missing blob for files entry %q", key))
			return
		}
	}

	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to create store directory"))
		return
	}
	if err := store.MergeNonOverwriting(ctx, sess.TmpDir, storeDir); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to merge session into store"))
		return
	}

	if err := e.Metadata.CacheCreationHeight(ctx, storeID); err != nil {
		e.logger.Warn().Err(err).Str("store_id", storeID).Msg("failed to cache store creation height")
	}
	if err := e.Metadata.GenerateManifest(ctx, storeID); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to regenerate manifest"))
		return
	}

	e.incUploadsCommitted()
	e.logger.Info().Str("store_id", storeID).Str("session_id", sess.ID).Str("root_hash", rootHash).Msg("commit succeeded")
	w.WriteHeader(http.StatusOK)
}

// Abort handles POST /abort/{storeId}/{sessionId}.
func (e *Engine) Abort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID := chi.URLParam(r, "storeId")
	sessionID := chi.URLParam(r, "sessionId")

	sess, ok := e.Registry.Get(sessionID)
	if !ok || sess.StoreID != storeID {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "unknown session"))
		return
	}
	e.Registry.Destroy(sess.ID)
	e.incUploadsAborted()

	// Design note allows omitting this when manifest regeneration is
	// idempotent and expensive; kept here because the external module's
	// regeneration is idempotent and consistency after an abort is cheap
	// to ask for.
	if err := e.Metadata.GenerateManifest(ctx, storeID); err != nil {
		e.logger.Warn().Err(err).Str("store_id", storeID).Msg("manifest regeneration after abort failed")
	}

	w.WriteHeader(http.StatusOK)
}

func firstMultipartFile(r *http.Request) (io.ReadCloser, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", fmt.Errorf("no file part found in multipart body")
		}
		if err != nil {
			return nil, "", err
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		return part, part.FileName(), nil
	}
}

func streamToFile(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
