package ownercache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls  int64
	answer bool
	err    error
}

func (f *fakeSource) HasMetaWritePermission(ctx context.Context, storeID, publicKey string) (bool, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.answer, f.err
}

func TestIsOwnerCachesPositiveAnswer(t *testing.T) {
	src := &fakeSource{answer: true}
	c := New(src, time.Minute)

	ok, err := c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)
	require.True(t, ok)

	require.EqualValues(t, 1, atomic.LoadInt64(&src.calls), "second call should hit the cache")
}

func TestIsOwnerRefreshesOnExpiry(t *testing.T) {
	src := &fakeSource{answer: true}
	c := New(src, 10*time.Millisecond)

	_, err := c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt64(&src.calls))
}

func TestBumpDoesNotPromoteNegativeEntry(t *testing.T) {
	src := &fakeSource{answer: false}
	c := New(src, 50*time.Millisecond)

	ok, err := c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)
	require.False(t, ok)

	// Bumping a negative (or absent) entry is a no-op; it must not become
	// positive or extend a negative cache.
	c.Bump("pubkey", "store1")

	ok, err = c.IsOwner(context.Background(), "pubkey", "store1")
	require.NoError(t, err)
	require.False(t, ok)
}
