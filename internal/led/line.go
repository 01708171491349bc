// Package led provides the signal lines and the serial connection the scan
// engine drives, backed by periph, the Linux GPIO character device or a
// simulated panel.
package led

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
)

// Line is a digital output. gpio.PinOut satisfies it.
type Line interface {
	Out(l gpio.Level) error
}

// PWMLine is an output that can also be driven by a hardware PWM.
type PWMLine interface {
	Line
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// Mux hands a pin back and forth between a bus peripheral and plain GPIO.
type Mux interface {
	// Acquire switches the pin to GPIO output, driven low.
	Acquire() error
	// Release returns the pin to its peripheral function.
	Release() error
}

var ErrNoPWM = errors.New("led: line has no hardware PWM")

// Bus is everything the scan engine drives.
//
// Levels are logical: OE high enables the column outputs, LE high latches
// the shift chain, RowEnable high blanks the row drivers.
type Bus struct {
	Name      string
	Conn      conn.Conn
	Addr      [3]Line
	LE        Line
	OE        Line
	RowEnable PWMLine
	CLK       Line
	MOSI      Line
	CLKMux    Mux
	MOSIMux   Mux

	closers []io.Closer
}

func (b *Bus) String() string {
	return b.Name
}

// Close releases the bus resources in reverse order of acquisition.
func (b *Bus) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Bus) onClose(c io.Closer) {
	b.closers = append(b.closers, c)
}

// FuncMux switches a periph pin between a peripheral function and GPIO.
type FuncMux struct {
	Pin        pin.PinFunc
	Peripheral pin.Func
}

func (m *FuncMux) Acquire() error {
	if err := m.Pin.SetFunc(gpio.OUT_LOW); err != nil {
		return fmt.Errorf("led: %s to gpio: %w", m.Peripheral, err)
	}
	return nil
}

func (m *FuncMux) Release() error {
	if err := m.Pin.SetFunc(m.Peripheral); err != nil {
		return fmt.Errorf("led: gpio to %s: %w", m.Peripheral, err)
	}
	return nil
}

// muxFor returns a FuncMux for p when it can change function, nil otherwise.
func muxFor(p interface{}, f pin.Func) Mux {
	pf, ok := p.(pin.PinFunc)
	if !ok {
		return nil
	}
	return &FuncMux{Pin: pf, Peripheral: f}
}

// spiMode matches the column drivers: data valid on the trailing clock
// edge, least significant bit first.
const spiMode = spi.Mode1 | spi.LSBFirst
