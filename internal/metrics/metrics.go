// Package metrics keeps a handful of in-process counters and logs them
// periodically. Grounded on cuemby-warren's pkg/metrics.Collector (a ticker
// driving a periodic collect() pass), scaled down from its Prometheus-style
// gauge set to plain atomic counters logged through zerolog, since nothing
// else in this repository's dependency set pulls in a metrics exporter.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/storepeer/propagator/internal/log"
)

// Counters tracks the server's lifetime event counts.
type Counters struct {
	UploadsStarted   int64
	UploadsCommitted int64
	UploadsAborted   int64
	BytesReceived    int64
	NonceHits        int64
	NonceMisses      int64

	stopCh chan struct{}
	logger zerolog.Logger
}

// New returns an empty Counters set.
func New() *Counters {
	return &Counters{
		stopCh: make(chan struct{}),
		logger: log.WithComponent("metrics"),
	}
}

func (c *Counters) IncUploadsStarted()          { atomic.AddInt64(&c.UploadsStarted, 1) }
func (c *Counters) IncUploadsCommitted()        { atomic.AddInt64(&c.UploadsCommitted, 1) }
func (c *Counters) IncUploadsAborted()          { atomic.AddInt64(&c.UploadsAborted, 1) }
func (c *Counters) AddBytesReceived(n int64)    { atomic.AddInt64(&c.BytesReceived, n) }
func (c *Counters) IncNonceHits()               { atomic.AddInt64(&c.NonceHits, 1) }
func (c *Counters) IncNonceMisses()             { atomic.AddInt64(&c.NonceMisses, 1) }

// StartLogging logs a snapshot of every counter every interval until Stop is
// called.
func (c *Counters) StartLogging(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.logSnapshot()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the periodic logging goroutine.
func (c *Counters) Stop() { close(c.stopCh) }

func (c *Counters) logSnapshot() {
	c.logger.Info().
		Int64("uploads_started", atomic.LoadInt64(&c.UploadsStarted)).
		Int64("uploads_committed", atomic.LoadInt64(&c.UploadsCommitted)).
		Int64("uploads_aborted", atomic.LoadInt64(&c.UploadsAborted)).
		Int64("bytes_received", atomic.LoadInt64(&c.BytesReceived)).
		Int64("nonce_hits", atomic.LoadInt64(&c.NonceHits)).
		Int64("nonce_misses", atomic.LoadInt64(&c.NonceMisses)).
		Msg("counters")
}
