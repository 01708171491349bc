package led

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// Pins names the GPIO lines of the sign connector. Names are whatever the
// backend understands: periph pin names ("GPIO17") or character device line
// offsets ("17").
type Pins struct {
	A0        string
	A1        string
	A2        string
	LE        string
	OE        string
	RowEnable string
	CLK       string // empty: use the SPI port's clock pin
	MOSI      string // empty: use the SPI port's data pin
}

// PeriphConfig selects the SPI port and pins for OpenPeriph.
type PeriphConfig struct {
	Port  string // "" for the first port
	Speed physic.Frequency
	Pins  Pins
}

// OpenPeriph opens the SPI port and looks up every line through the periph
// registries. host.Init must have been called.
func OpenPeriph(cfg PeriphConfig) (*Bus, error) {
	p, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("led: open spi %q: %w", cfg.Port, err)
	}
	b := &Bus{Name: "periph(" + p.String() + ")"}
	b.onClose(p)

	c, err := p.Connect(cfg.Speed, spiMode, 8)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("led: connect spi: %w", err)
	}
	b.Conn = c

	lookup := func(name string) (gpio.PinIO, error) {
		if name == "" {
			return nil, fmt.Errorf("led: missing pin name")
		}
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("led: no pin %q", name)
		}
		return pin, nil
	}

	for i, name := range []string{cfg.Pins.A0, cfg.Pins.A1, cfg.Pins.A2} {
		pin, err := lookup(name)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Addr[i] = pin
	}
	for _, l := range []struct {
		name string
		dst  *Line
	}{{cfg.Pins.LE, &b.LE}, {cfg.Pins.OE, &b.OE}} {
		pin, err := lookup(l.name)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		*l.dst = pin
	}
	re, err := lookup(cfg.Pins.RowEnable)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.RowEnable = re

	clk, mosi, err := busPins(p, cfg.Pins, lookup)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.CLK, b.MOSI = clk, mosi
	b.CLKMux = muxFor(clk, spi.CLK)
	b.MOSIMux = muxFor(mosi, spi.MOSI)

	for _, l := range append(b.Addr[:], b.LE, b.OE) {
		if err := l.Out(gpio.Low); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("led: init line: %w", err)
		}
	}
	// Dark until the scan starts.
	if err := b.RowEnable.Out(gpio.High); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("led: init row enable: %w", err)
	}
	return b, nil
}

func busPins(p spi.Port, names Pins, lookup func(string) (gpio.PinIO, error)) (gpio.PinOut, gpio.PinOut, error) {
	var clk, mosi gpio.PinOut
	if sp, ok := p.(spi.Pins); ok {
		clk, mosi = sp.CLK(), sp.MOSI()
	}
	if names.CLK != "" {
		pin, err := lookup(names.CLK)
		if err != nil {
			return nil, nil, err
		}
		clk = pin
	}
	if names.MOSI != "" {
		pin, err := lookup(names.MOSI)
		if err != nil {
			return nil, nil, err
		}
		mosi = pin
	}
	if clk == nil || mosi == nil || clk == gpio.INVALID || mosi == gpio.INVALID {
		return nil, nil, fmt.Errorf("led: spi port %s does not expose its clock and data pins", p)
	}
	return clk, mosi, nil
}
