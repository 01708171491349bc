// Package scan runs the row-multiplexed refresh of the sign.
//
// Every tick latches the row shifted out on the previous tick, shows it on
// its row address, encodes the next row and restarts the serial transfer.
// The framebuffer is read without coordination with its writers; a frame
// may tear but is never corrupted.
package scan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/codec"
	"github.com/coreman2200/funtimes-ledsign/internal/led"
)

// Driver is the column driver chain and row gate the controller starts and
// stops. *mbi5029.Dev implements it.
type Driver interface {
	SetMode(special bool) error
	Enable() error
	Disable() error
}

// Streamer restarts the serial transfer of one transmit buffer. The buffer
// is only valid for the duration of the call.
type Streamer interface {
	// Restart replaces any transfer not yet finished with buf. overrun
	// reports that the previous transfer was still pending.
	Restart(buf []byte) (overrun bool, err error)
}

// Stats are the controller counters.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	Frames         uint64 `json:"frames"`
	Overruns       uint64 `json:"overruns"`
	TransferErrors uint64 `json:"transfer_errors"`
	LineErrors     uint64 `json:"line_errors"`
	Armed          bool   `json:"armed"`
	Row            int    `json:"row"`
}

// Controller is the scan state machine. It is Idle until Start and Armed
// afterwards; Tick does nothing while Idle.
type Controller struct {
	codec  *codec.Codec
	drv    Driver
	addr   [3]led.Line
	le, oe led.Line
	stream Streamer

	// OnOverrun is called from Tick with the row being restarted when the
	// previous transfer had not finished. It must not block.
	OnOverrun func(r codec.Row)

	mu    sync.Mutex
	armed atomic.Bool
	cold  bool
	row   codec.Row
	buf   []byte

	ticks, frames, overruns, errs, lineErrs atomic.Uint64
	shown                                   atomic.Uint32
}

// New returns an idle controller encoding with c, gating with drv, driving
// the address and latch lines of bus and transferring through s.
func New(c *codec.Codec, drv Driver, bus *led.Bus, s Streamer) (*Controller, error) {
	if c == nil || drv == nil || bus == nil || s == nil {
		return nil, errors.New("scan: missing collaborator")
	}
	for _, l := range append(bus.Addr[:], bus.LE, bus.OE) {
		if l == nil {
			return nil, errors.New("scan: bus is missing address or latch lines")
		}
	}
	return &Controller{
		codec:  c,
		drv:    drv,
		addr:   bus.Addr,
		le:     bus.LE,
		oe:     bus.OE,
		stream: s,
		buf:    make([]byte, c.Size()),
	}, nil
}

// Start switches the drivers to normal mode, enables the row gate and arms
// the controller. The next tick is a cold start. Starting an armed
// controller does nothing.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed.Load() {
		return nil
	}
	if err := c.drv.SetMode(false); err != nil {
		return err
	}
	if err := c.drv.Enable(); err != nil {
		return err
	}
	c.cold = true
	c.armed.Store(true)
	log.Info().Msg("scan: started")
	return nil
}

// Stop disarms the controller, holds the rows dark and parks the drivers
// in special mode. Every step is attempted even if an earlier one fails.
// Stopping an idle controller does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed.Load() {
		return nil
	}
	c.armed.Store(false)
	err := errors.Join(
		c.drv.Disable(),
		c.oe.Out(gpio.Low),
		c.drv.SetMode(true),
	)
	if err != nil {
		log.Warn().Err(err).Msg("scan: stopped with errors")
		return fmt.Errorf("scan: stop: %w", err)
	}
	log.Info().Msg("scan: stopped")
	return nil
}

func (c *Controller) Armed() bool {
	return c.armed.Load()
}

// Row returns the row address most recently encoded.
func (c *Controller) Row() codec.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.row
}

// Tick runs one row step. It does not allocate and does not wait for the
// serial transfer.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed.Load() {
		return
	}
	c.ticks.Add(1)

	c.out(c.oe, gpio.Low)
	if c.cold {
		c.cold = false
		c.row = 0
	} else {
		c.out(c.le, gpio.High)
		for i, l := range c.addr {
			c.out(l, gpio.Level(c.row.Bit(i)))
		}
		c.out(c.oe, gpio.High)
		c.shown.Store(uint32(c.row))
		if int(c.row) == ledsign.RowGroups-1 {
			c.frames.Add(1)
		}
		c.row = c.row.Next()
	}

	c.codec.Encode(c.buf, c.row)
	c.out(c.le, gpio.Low)

	overrun, err := c.stream.Restart(c.buf)
	if overrun {
		c.overruns.Add(1)
		log.Debug().Int("row", int(c.row)).Msg("scan: transfer overrun")
		if c.OnOverrun != nil {
			c.OnOverrun(c.row)
		}
	}
	if err != nil {
		c.errs.Add(1)
		log.Debug().Err(err).Int("row", int(c.row)).Msg("scan: transfer")
	}
}

// out drives l from Tick, counting a failed write instead of stopping.
func (c *Controller) out(l led.Line, v gpio.Level) {
	if err := l.Out(v); err != nil {
		c.lineErrs.Add(1)
	}
}

// Shown returns the row address currently on the row drivers.
func (c *Controller) Shown() codec.Row {
	return codec.Row(c.shown.Load())
}

func (c *Controller) Stats() Stats {
	return Stats{
		Ticks:          c.ticks.Load(),
		Frames:         c.frames.Load(),
		Overruns:       c.overruns.Load(),
		TransferErrors: c.errs.Load(),
		LineErrors:     c.lineErrs.Load(),
		Armed:          c.armed.Load(),
		Row:            int(c.Row()),
	}
}
