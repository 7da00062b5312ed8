package hashstream

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyThroughMatchesDirectSum(t *testing.T) {
	data := strings.Repeat("some blob content\n", 1000)
	var dst bytes.Buffer

	written, sumHex, err := CopyThrough(&dst, strings.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), written)
	require.Equal(t, data, dst.String())

	want := sha256.Sum256([]byte(data))
	require.Equal(t, hex.EncodeToString(want[:]), sumHex)
}

func TestObserveReaderFiresBoundedly(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 36)
	var clock int64
	now := func() int64 { return clock }

	var fires int
	r := NewObserveReader(bytes.NewReader(data), 10, now, func() { fires++ })

	buf := make([]byte, 4)
	for i := 0; i < 8; i++ {
		_, err := r.Read(buf)
		require.NoError(t, err)
		clock++ // advance less than minInterval each time
	}
	require.Less(t, fires, 8, "observer should coalesce fires within minInterval")

	clock = 1000
	_, _ = r.Read(buf)
	require.GreaterOrEqual(t, fires, 1)
}
