// Package session implements the per-upload working context and the
// process-wide registry that owns it: TTL tracking, exclusive temp
// directories, and safe concurrent mutation while files stream in.
// Grounded on cs3org/reva's decomposedfs upload-session lifecycle
// (a session object wrapping on-disk state with Persist/Purge/TouchBin
// steps) and perkeep's httputil/localdisk pattern of one mutex guarding one
// piece of mutable on-disk state.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Session is a server-side context accumulating one pending upload.
type Session struct {
	ID      string
	StoreID string
	TmpDir  string

	mu       sync.Mutex
	rootHash string
	rootSet  bool

	timer     *time.Timer
	ttl       time.Duration
	onExpire  func(id string)
	destroyed bool
}

// RootHash returns the session's accepted root-commitment hash, or "" if
// none has been set yet.
func (s *Session) RootHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootHash
}

// SetRootHash assigns the session's root hash once; it is immutable once
// set. Returns an error if already set to a different value.
func (s *Session) SetRootHash(h string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootSet {
		if s.rootHash == h {
			return nil
		}
		return fmt.Errorf("session %s: rootHash is already set to %s", s.ID, s.rootHash)
	}
	s.rootHash = h
	s.rootSet = true
	return nil
}

// HasRootHash reports whether SetRootHash has been called successfully.
func (s *Session) HasRootHash() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootSet
}

// bumpDeadline resets the expiry timer to now+ttl. Single-timer-per-session:
// each bump cancels and re-arms, rather than accumulating timers.
func (s *Session) bumpDeadline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.ttl, func() {
		if s.onExpire != nil {
			s.onExpire(s.ID)
		}
	})
}

// stopTimer cancels the expiry timer; called by the registry as the first
// step of Destroy so a concurrent fire can't race a clean teardown.
func (s *Session) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
