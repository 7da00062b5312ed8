package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurstThenBlocks(t *testing.T) {
	l := New(10, time.Minute, 2)

	require.True(t, l.Allow("k1"))
	require.True(t, l.Allow("k1"))
	require.False(t, l.Allow("k1"), "third immediate call should exceed the burst")
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(10, time.Minute, 1)

	require.True(t, l.Allow("k1"))
	require.True(t, l.Allow("k2"), "a different key must have its own budget")
	require.False(t, l.Allow("k1"))
}
