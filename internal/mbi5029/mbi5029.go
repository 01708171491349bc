// Package mbi5029 drives the MBI5029 constant-current column drivers of the
// sign and the PWM gate on the row drivers.
//
// The driver chips share the SPI clock, data, latch and output-enable lines
// with the scan. Mode switches and configuration writes bit-bang the clock
// (and data) lines, so they must not run while the scan is active.
package mbi5029

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/led"
)

// ErrLevel is returned for a brightness outside [0, MaxBrightness].
var ErrLevel = errors.New("mbi5029: brightness out of range")

// Opts configures a Dev.
type Opts struct {
	// Chips is the number of 16-bit driver chips in the chain.
	Chips int
	// Settle is the delay after each bit-banged clock edge.
	Settle time.Duration
	// Period is the row timer period in counts.
	Period int
	// Freq is the PWM frequency on the row-enable line.
	Freq physic.Frequency
}

// DefaultOpts suits the 40x20 single-module sign.
var DefaultOpts = Opts{
	Chips:  9,
	Settle: time.Microsecond,
	Period: ledsign.TimerPeriod,
	Freq:   ledsign.ScanFrequency(),
}

// mode handshake, one entry per clock pulse
var (
	oeSteps = [5]gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.Low, gpio.Low}
	leStep  = 3
)

// Dev is a chain of MBI5029 drivers plus the row-enable gate.
type Dev struct {
	bus  *led.Bus
	opts Opts

	mu      sync.Mutex // bit-banged sequences
	gate    sync.Mutex // row-enable line and running
	level   atomic.Int32
	running bool
	special atomic.Bool
	noPWM   atomic.Bool
}

// New returns a Dev on b. opts may be nil for DefaultOpts.
func New(b *led.Bus, opts *Opts) (*Dev, error) {
	if b == nil || b.CLK == nil || b.MOSI == nil || b.LE == nil || b.OE == nil || b.RowEnable == nil {
		return nil, errors.New("mbi5029: bus is missing control lines")
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Chips <= 0 || o.Period <= 0 || o.Freq <= 0 {
		return nil, fmt.Errorf("mbi5029: invalid options %+v", o)
	}
	d := &Dev{bus: b, opts: o}
	d.level.Store(int32(ledsign.DefaultBrightness))
	return d, nil
}

func (d *Dev) String() string {
	return "MBI5029{" + d.bus.String() + "}"
}

// SetMode switches every driver in the chain between normal (false) and
// special (true) configuration mode.
func (d *Dev) SetMode(special bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := acquire(d.bus.CLKMux); err != nil {
		return err
	}
	err := d.handshake(special)
	if rerr := release(d.bus.CLKMux); err == nil {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("mbi5029: mode switch: %w", err)
	}
	d.special.Store(special)
	log.Debug().Bool("special", special).Msg("mbi5029: mode")
	return nil
}

func (d *Dev) handshake(special bool) error {
	b := d.bus
	if err := outs(drive{b.CLK, gpio.Low}, drive{b.OE, gpio.Low}, drive{b.LE, gpio.Low}); err != nil {
		return err
	}
	for i, oe := range oeSteps {
		le := gpio.Level(special && i == leStep)
		if err := outs(drive{b.OE, oe}, drive{b.LE, le}); err != nil {
			return err
		}
		if err := d.pulse(); err != nil {
			return err
		}
	}
	return nil
}

// pulse drives the clock low then high, settling after each edge.
func (d *Dev) pulse() error {
	if err := d.bus.CLK.Out(gpio.Low); err != nil {
		return err
	}
	d.settle()
	if err := d.bus.CLK.Out(gpio.High); err != nil {
		return err
	}
	d.settle()
	return nil
}

func (d *Dev) settle() {
	if d.opts.Settle > 0 {
		time.Sleep(d.opts.Settle)
	}
}

// Special reports the mode last set by SetMode.
func (d *Dev) Special() bool {
	return d.special.Load()
}

// WriteConfig shifts code into the configuration register of every chip,
// least significant bit first, latching on the final bit of the chain.
// The drivers must be in special mode for the chips to accept it.
func (d *Dev) WriteConfig(code uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := acquire(d.bus.CLKMux); err != nil {
		return err
	}
	if err := acquire(d.bus.MOSIMux); err != nil {
		_ = release(d.bus.CLKMux)
		return err
	}
	err := d.shiftConfig(code)
	if rerr := release(d.bus.MOSIMux); err == nil {
		err = rerr
	}
	if rerr := release(d.bus.CLKMux); err == nil {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("mbi5029: config write: %w", err)
	}
	log.Debug().Str("code", fmt.Sprintf("%#04x", code)).Int("chips", d.opts.Chips).Msg("mbi5029: config")
	return nil
}

func (d *Dev) shiftConfig(code uint16) error {
	b := d.bus
	if err := outs(drive{b.CLK, gpio.Low}, drive{b.MOSI, gpio.Low}); err != nil {
		return err
	}
	for chip := 0; chip < d.opts.Chips; chip++ {
		for bit := 0; bit < 16; bit++ {
			if chip == d.opts.Chips-1 && bit == 15 {
				if err := b.LE.Out(gpio.High); err != nil {
					return err
				}
			}
			if err := b.MOSI.Out(gpio.Level(code&(1<<uint(bit)) != 0)); err != nil {
				return err
			}
			d.settle()
			if err := b.CLK.Out(gpio.High); err != nil {
				return err
			}
			d.settle()
			if err := b.CLK.Out(gpio.Low); err != nil {
				return err
			}
		}
	}
	return b.LE.Out(gpio.Low)
}

// SetBrightness sets the global brightness, 0 (darkest) to MaxBrightness.
// It takes effect immediately when the panel is enabled and on the next
// Enable otherwise.
func (d *Dev) SetBrightness(level int) error {
	if level < 0 || level > ledsign.MaxBrightness {
		return fmt.Errorf("%w: %d", ErrLevel, level)
	}
	d.gate.Lock()
	defer d.gate.Unlock()
	d.level.Store(int32(level))
	if d.running {
		return d.applyPWM()
	}
	return nil
}

func (d *Dev) Brightness() int {
	return int(d.level.Load())
}

// Compare returns the timer compare value for the current brightness.
func (d *Dev) Compare() int {
	return Compare(d.Brightness(), d.opts.Period)
}

// Enable gates the row drivers with the brightness PWM.
func (d *Dev) Enable() error {
	d.gate.Lock()
	defer d.gate.Unlock()
	d.running = true
	return d.applyPWM()
}

// Disable holds the row drivers off.
func (d *Dev) Disable() error {
	d.gate.Lock()
	defer d.gate.Unlock()
	d.running = false
	if err := d.bus.RowEnable.Out(gpio.High); err != nil {
		return fmt.Errorf("mbi5029: row enable off: %w", err)
	}
	return nil
}

// Halt darkens the panel.
func (d *Dev) Halt() error {
	return d.Disable()
}

// applyPWM must be called with gate held.
func (d *Dev) applyPWM() error {
	duty := Duty(d.Compare(), d.opts.Period)
	err := d.bus.RowEnable.PWM(duty, d.opts.Freq)
	if errors.Is(err, led.ErrNoPWM) {
		if !d.noPWM.Swap(true) {
			log.Warn().Str("bus", d.bus.String()).Msg("mbi5029: no PWM on row enable, brightness fixed at full")
		}
		err = d.bus.RowEnable.Out(gpio.Low)
	}
	if err != nil {
		return fmt.Errorf("mbi5029: row enable pwm: %w", err)
	}
	return nil
}

// Compare is the timer count at which the row drivers switch off for a
// brightness level: (256-level)*period/257.
func Compare(level, period int) int {
	return (ledsign.MaxBrightness - level) * period / (ledsign.MaxBrightness + 1)
}

// Duty converts a compare value into the PWM duty of the blanking signal.
func Duty(compare, period int) gpio.Duty {
	return gpio.Duty(int64(compare) * int64(gpio.DutyMax) / int64(period))
}

// Gain is the relative output current gain selected by a configuration
// code: bit 6 is the high-current range, bits 0 to 5 the fine adjust.
func Gain(code uint16) float64 {
	hc := float64((code & 0x40) >> 6)
	d := float64(code & 0x3f)
	return ((1 + 2*hc) / 3) * (1 + d/32) / 3
}

type drive struct {
	l led.Line
	v gpio.Level
}

func outs(ds ...drive) error {
	for _, d := range ds {
		if err := d.l.Out(d.v); err != nil {
			return err
		}
	}
	return nil
}

func acquire(m led.Mux) error {
	if m == nil {
		return nil
	}
	return m.Acquire()
}

func release(m led.Mux) error {
	if m == nil {
		return nil
	}
	return m.Release()
}
