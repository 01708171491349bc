package scan

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
)

// DMA streams transmit buffers on a worker goroutine, the way the transfer
// engine of a microcontroller runs beside the timer interrupt. Restart
// copies the buffer into a pending slot and wakes the worker; a buffer that
// has not been picked up yet is replaced. A transfer already in flight is
// not aborted, so the new buffer goes out after it completes.
type DMA struct {
	c    conn.Conn
	kick chan struct{}

	mu      sync.Mutex
	pending []byte
	front   []byte
	queued  bool
	busy    bool
	err     error

	transfers atomic.Uint64
}

// NewDMA returns a streamer for buffers of size bytes on c. Run must be
// started for transfers to happen.
func NewDMA(c conn.Conn, size int) *DMA {
	return &DMA{
		c:       c,
		kick:    make(chan struct{}, 1),
		pending: make([]byte, size),
		front:   make([]byte, size),
	}
}

func (d *DMA) String() string {
	return "DMA{" + d.c.String() + "}"
}

// Restart implements Streamer. The error is the last failure of the worker
// since the previous call, if any.
func (d *DMA) Restart(buf []byte) (bool, error) {
	d.mu.Lock()
	overrun := d.busy || d.queued
	copy(d.pending, buf)
	d.queued = true
	err := d.err
	d.err = nil
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
	return overrun, err
}

// Run transfers queued buffers until ctx is done.
func (d *DMA) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.kick:
		}

		d.mu.Lock()
		if !d.queued {
			d.mu.Unlock()
			continue
		}
		d.pending, d.front = d.front, d.pending
		d.queued = false
		d.busy = true
		d.mu.Unlock()

		err := d.c.Tx(d.front, nil)

		d.mu.Lock()
		d.busy = false
		if err != nil {
			d.err = err
		}
		d.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Str("conn", d.c.String()).Msg("scan: tx")
			continue
		}
		d.transfers.Add(1)
	}
}

// Transfers counts completed transfers.
func (d *DMA) Transfers() uint64 {
	return d.transfers.Load()
}

// Sync transfers on the calling goroutine. It suits the simulated panel and
// tests, where a transfer finishes immediately.
type Sync struct {
	C conn.Conn
}

func (s Sync) Restart(buf []byte) (bool, error) {
	return false, s.C.Tx(buf, nil)
}
