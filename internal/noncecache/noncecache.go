// Package noncecache issues and single-use-validates per-file upload
// nonces. Grounded on perkeep's pkg/lru (a plain, non-expiring LRU map
// guarded by one mutex) but built on github.com/bluele/gcache instead: the
// nonce cache needs a hard per-entry TTL, which pkg/lru has no notion of,
// while gcache's SetWithExpire gives each entry its own expiry, checked
// lazily on access.
package noncecache

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

// DefaultTTL is the default nonce lifetime.
const DefaultTTL = 10 * time.Minute

// Cache issues and consumes single-use nonces keyed by
// "<storeId>_<sessionId>_<filename>".
type Cache struct {
	ttl time.Duration
	gc  gcache.Cache
	// mu serializes validate-and-consume so a nonce can never be accepted
	// by two concurrent PUTs racing the same key.
	mu sync.Mutex
}

// Key builds the nonce-cache key for (storeID, sessionID, filename).
func Key(storeID, sessionID, filename string) string {
	return fmt.Sprintf("%s_%s_%s", storeID, sessionID, filename)
}

// New returns a Cache with the given TTL and a generous max size; entries
// past their TTL are evicted lazily on access or by gcache's internal
// janitor.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	gc := gcache.New(100_000).LRU().Build()
	return &Cache{ttl: ttl, gc: gc}
}

// Issue generates a fresh 16-byte hex-encoded nonce for key and stores it
// with the cache's TTL.
func (c *Cache) Issue(key string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gc.SetWithExpire(key, nonce, c.ttl); err != nil {
		return "", err
	}
	return nonce, nil
}

// ValidateAndConsume returns true iff key has an unexpired entry equal to
// candidate; on success the entry is removed so it cannot be reused.
func (c *Cache) ValidateAndConsume(key, candidate string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.gc.Get(key)
	if err != nil {
		return false
	}
	stored, _ := v.(string)
	if stored == "" || stored != candidate {
		return false
	}
	c.gc.Remove(key)
	return true
}
