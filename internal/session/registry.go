package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/storepeer/propagator/internal/log"
)

// DefaultTTL is the default session inactivity timeout.
const DefaultTTL = 5 * time.Minute

// Registry owns every live Session and its temp directory. All membership
// mutations (create, destroy) are serialized under a single lock; Session's
// own fields (rootHash, timer) take a per-session lock so streaming PUTs
// calling Bump don't contend with unrelated sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	tmpRoot string
	ttl     time.Duration
	logger  zerolog.Logger
}

// New returns a Registry rooted at tmpRoot with the given session TTL.
func New(tmpRoot string, ttl time.Duration) (*Registry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return nil, err
	}
	return &Registry{
		sessions: make(map[string]*Session),
		tmpRoot:  tmpRoot,
		ttl:      ttl,
		logger:   log.WithComponent("session-registry"),
	}, nil
}

// CleanStaleTempDirs removes any directory under tmpRoot that does not
// belong to a session currently known to the registry. Intended to be
// called once at process startup, before any session is created, to clean
// up leftover temp directories after a prior crash.
func (r *Registry) CleanStaleTempDirs() error {
	entries, err := os.ReadDir(r.tmpRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, live := r.sessions[e.Name()]; live {
			continue
		}
		path := filepath.Join(r.tmpRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("failed to remove stale session temp dir")
			continue
		}
		r.logger.Info().Str("path", path).Msg("removed stale session temp dir from a prior run")
	}
	return nil
}

// Create allocates a fresh session: a UUID v4 id, an exclusive temp
// directory, and an armed expiry timer.
func (r *Registry) Create(storeID string) (*Session, error) {
	id := uuid.New().String()
	tmpDir := filepath.Join(r.tmpRoot, id)
	if err := os.Mkdir(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session temp dir: %w", err)
	}

	s := &Session{
		ID:      id,
		StoreID: storeID,
		TmpDir:  tmpDir,
		ttl:     r.ttl,
		onExpire: func(expiredID string) {
			r.logger.Info().Str("session_id", expiredID).Msg("session expired; destroying")
			r.Destroy(expiredID)
		},
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	s.bumpDeadline()
	return s, nil
}

// Get performs a non-mutating lookup.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Bump resets a session's expiry timer to now+ttl. Called on every observed
// chunk during PUT streaming (subject to the caller bounding call
// frequency; see hashstream.ObserveReader).
func (r *Registry) Bump(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.bumpDeadline()
}

// Destroy cancels the timer, recursively deletes the temp directory, and
// removes the session from the registry. Idempotent: a second call on an
// already-destroyed (or never-existing) id is a no-op that returns false.
//
// destroy and a commit's final rename-phase both acquire the registry lock,
// so only one of {commit-success, timer-destroy} can win a race between
// them.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.stopTimer()
	if err := os.RemoveAll(s.TmpDir); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Str("tmp_dir", s.TmpDir).Msg("failed to remove session temp dir")
	}
	return true
}

// Len reports the number of live sessions; used by tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DestroyAll destroys every live session, releasing its temp directory.
// Called on graceful shutdown so a clean restart never needs
// CleanStaleTempDirs to recover from leaked state.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}
