// Package hashstream provides a stream transformer that forwards every byte
// unchanged while maintaining a running digest, composable inside a larger
// pipeline (source -> hashing -> optional compressor -> sink). Adapted from
// the io.MultiWriter(hash, tempFile) pattern in perkeep's
// pkg/blobserver/localdisk/receive.go, generalized into a reusable
// io.Writer wrapper instead of an inline io.Copy call.
package hashstream

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Writer wraps an underlying io.Writer, forwarding every Write to it while
// feeding the same bytes into a hash.Hash. It is not safe for concurrent
// use by multiple goroutines.
type Writer struct {
	dst io.Writer
	h   hash.Hash
}

// NewSHA256 returns a Writer that hashes with sha-256 and forwards to dst.
func NewSHA256(dst io.Writer) *Writer {
	return &Writer{dst: dst, h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		// Only feed the hash the bytes actually accepted downstream, so the
		// digest always matches what was truly persisted.
		w.h.Write(p[:n])
	}
	return n, err
}

// SumHex returns the current hex digest of all bytes written so far.
func (w *Writer) SumHex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// CopyThrough copies src into a Writer wrapping dst, and returns the bytes
// written and final hex digest. A thin convenience wrapper over io.Copy for
// call sites that don't need mid-stream access to the running digest.
func CopyThrough(dst io.Writer, src io.Reader) (written int64, sumHex string, err error) {
	hw := NewSHA256(dst)
	written, err = io.Copy(hw, src)
	return written, hw.SumHex(), err
}

// ObserveReader wraps an io.Reader and invokes onChunk after each
// successful Read, at most once per minInterval, so a high-frequency stream
// doesn't turn "reset TTL per chunk" into an unbounded number of timer
// rearms (design note: bounding bump frequency is permitted and
// encouraged).
type ObserveReader struct {
	src         io.Reader
	onChunk     func()
	minInterval int64 // nanoseconds; 0 means every chunk
	lastFire    int64
	now         func() int64
}

// NewObserveReader returns an ObserveReader calling onChunk on Read, no more
// often than minInterval nanoseconds apart. now is the monotonic clock
// source (time.Now().UnixNano in production, stubbed in tests).
func NewObserveReader(src io.Reader, minIntervalNanos int64, now func() int64, onChunk func()) *ObserveReader {
	return &ObserveReader{src: src, onChunk: onChunk, minInterval: minIntervalNanos, now: now}
}

func (r *ObserveReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 && r.onChunk != nil {
		t := r.now()
		if t-r.lastFire >= r.minInterval {
			r.lastFire = t
			r.onChunk()
		}
	}
	return n, err
}
