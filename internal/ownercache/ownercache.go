// Package ownercache caches (publicKey, storeId) -> bool write-permission
// answers from the external metadata module, with a sliding TTL so repeated
// writes by the same signer don't re-hit the external call on every PUT.
// Built on github.com/bluele/gcache for the same reason as noncecache.
package ownercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

// DefaultTTL is the default owner-cache entry lifetime.
const DefaultTTL = 3 * time.Minute

// MetaWritePermission is the external signing/key-permission module's
// write-permission check.
type MetaWritePermission interface {
	HasMetaWritePermission(ctx context.Context, storeID, publicKey string) (bool, error)
}

// Cache answers isOwner(publicKey, storeID) from a sliding-TTL cache backed
// by an external permission source.
type Cache struct {
	ttl    time.Duration
	source MetaWritePermission
	gc     gcache.Cache
	mu     sync.Mutex
}

func key(publicKey, storeID string) string {
	return fmt.Sprintf("%s|%s", publicKey, storeID)
}

// New returns a Cache consulting source on miss or expiry.
func New(source MetaWritePermission, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	gc := gcache.New(100_000).LRU().Build()
	return &Cache{ttl: ttl, source: source, gc: gc}
}

// IsOwner answers whether publicKey may write to storeID, consulting the
// external module on cache miss or expiry and sliding the TTL forward on a
// positive cache hit.
func (c *Cache) IsOwner(ctx context.Context, publicKey, storeID string) (bool, error) {
	k := key(publicKey, storeID)

	c.mu.Lock()
	if v, err := c.gc.Get(k); err == nil {
		allowed, _ := v.(bool)
		if allowed {
			// Sliding TTL: a positive access resets the entry's lifetime.
			_ = c.gc.SetWithExpire(k, true, c.ttl)
		}
		c.mu.Unlock()
		return allowed, nil
	}
	c.mu.Unlock()

	allowed, err := c.source.HasMetaWritePermission(ctx, storeID, publicKey)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	_ = c.gc.SetWithExpire(k, allowed, c.ttl)
	c.mu.Unlock()
	return allowed, nil
}

// Bump refreshes the TTL of an existing positive entry for (publicKey,
// storeID) without making an external call; used while a PUT body is
// streaming in so owner-permission doesn't expire mid-upload.
func (c *Cache) Bump(publicKey, storeID string) {
	k := key(publicKey, storeID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, err := c.gc.Get(k); err == nil {
		if allowed, _ := v.(bool); allowed {
			_ = c.gc.SetWithExpire(k, true, c.ttl)
		}
	}
}
