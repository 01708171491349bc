//go:build linux

package led

import (
	"fmt"
	"strconv"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

const consumer = "ledsign"

type cdevLine struct {
	l *gpiocdev.Line
}

func (c *cdevLine) Out(l gpio.Level) error {
	v := 0
	if l {
		v = 1
	}
	return c.l.SetValue(v)
}

// PWM is not available on character device lines.
func (c *cdevLine) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNoPWM
}

func (c *cdevLine) Close() error {
	return c.l.Close()
}

// OpenGPIOCDev drives the row address, latch and enable lines through the
// GPIO character device chip, with line offsets given as decimal strings in
// cfg.Pins. The SPI port and its clock and data pins still come from periph.
func OpenGPIOCDev(chip string, cfg PeriphConfig) (*Bus, error) {
	p, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("led: open spi %q: %w", cfg.Port, err)
	}
	b := &Bus{Name: "gpiocdev(" + chip + "," + p.String() + ")"}
	b.onClose(p)

	c, err := p.Connect(cfg.Speed, spiMode, 8)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("led: connect spi: %w", err)
	}
	b.Conn = c

	request := func(name string, initial int) (*cdevLine, error) {
		off, err := strconv.Atoi(name)
		if err != nil {
			return nil, fmt.Errorf("led: line offset %q: %w", name, err)
		}
		l, err := gpiocdev.RequestLine(chip, off, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
		if err != nil {
			return nil, fmt.Errorf("led: request %s:%d: %w", chip, off, err)
		}
		cl := &cdevLine{l: l}
		b.onClose(cl)
		return cl, nil
	}

	for i, name := range []string{cfg.Pins.A0, cfg.Pins.A1, cfg.Pins.A2} {
		l, err := request(name, 0)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Addr[i] = l
	}
	if b.LE, err = request(cfg.Pins.LE, 0); err != nil {
		_ = b.Close()
		return nil, err
	}
	if b.OE, err = request(cfg.Pins.OE, 0); err != nil {
		_ = b.Close()
		return nil, err
	}
	re, err := request(cfg.Pins.RowEnable, 1)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.RowEnable = re

	clk, mosi, err := busPins(p, Pins{}, nil)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.CLK, b.MOSI = clk, mosi
	b.CLKMux = muxFor(clk, spi.CLK)
	b.MOSIMux = muxFor(mosi, spi.MOSI)
	return b, nil
}
