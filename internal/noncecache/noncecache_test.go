package noncecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateAndConsumeIsSingleUse(t *testing.T) {
	c := New(time.Minute)
	k := Key("store1", "session1", "file.dat")

	nonce, err := c.Issue(k)
	require.NoError(t, err)
	require.Len(t, nonce, 32) // 16 bytes hex-encoded

	require.True(t, c.ValidateAndConsume(k, nonce))
	require.False(t, c.ValidateAndConsume(k, nonce), "nonce must not be reusable")
}

func TestValidateRejectsWrongCandidate(t *testing.T) {
	c := New(time.Minute)
	k := Key("store1", "session1", "file.dat")

	nonce, err := c.Issue(k)
	require.NoError(t, err)

	require.False(t, c.ValidateAndConsume(k, "not-the-nonce"))
	// A failed validate must not consume the real entry.
	require.True(t, c.ValidateAndConsume(k, nonce))
	// Once consumed, a fresh nonce can be issued and used for the same key.
	v, err := c.Issue(k)
	require.NoError(t, err)
	require.True(t, c.ValidateAndConsume(k, v))
}

func TestExpiredNonceIsRejected(t *testing.T) {
	c := New(10 * time.Millisecond)
	k := Key("store1", "session1", "file.dat")

	nonce, err := c.Issue(k)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.False(t, c.ValidateAndConsume(k, nonce))
}
