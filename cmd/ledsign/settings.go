package main

import (
	"github.com/coreman2200/funtimes-ledsign/internal/config"
)

// merge overlays the values c sets onto the flag values in eff.
func merge(eff config.Config, c *config.Config) config.Config {
	if c == nil {
		return eff
	}
	if c.Driver != "" {
		eff.Driver = c.Driver
	}
	if c.Geometry.Width > 0 {
		eff.Geometry.Width = c.Geometry.Width
	}
	if c.Geometry.Height > 0 {
		eff.Geometry.Height = c.Geometry.Height
	}
	if c.Geometry.Modules > 0 {
		eff.Geometry.Modules = c.Geometry.Modules
	}
	if c.Brightness != nil {
		eff.Brightness = c.Brightness
	}
	if c.RefreshHz > 0 {
		eff.RefreshHz = c.RefreshHz
	}
	if c.SPI.Port != "" {
		eff.SPI.Port = c.SPI.Port
	}
	if c.SPI.SpeedHz > 0 {
		eff.SPI.SpeedHz = c.SPI.SpeedHz
	}
	if c.Pins != (config.Pins{}) {
		eff.Pins = c.Pins
	}
	if c.GPIOChip != "" {
		eff.GPIOChip = c.GPIOChip
	}
	if c.DriverConfig != nil {
		eff.DriverConfig = c.DriverConfig
	}
	if c.Addr != "" {
		eff.Addr = c.Addr
	}
	if c.USB != (config.USB{}) {
		eff.USB = c.USB
	}
	if c.LogLevel != "" {
		eff.LogLevel = c.LogLevel
	}
	eff.Preview = eff.Preview || c.Preview
	return eff
}

// defaultPins is the wiring of the Raspberry Pi adapter board: BCM numbers,
// named for periph or bare for the character device.
func defaultPins(driver string) config.Pins {
	if driver == "gpiocdev" {
		return config.Pins{A0: "17", A1: "27", A2: "22", LE: "23", OE: "24", RowEnable: "18"}
	}
	return config.Pins{A0: "GPIO17", A1: "GPIO27", A2: "GPIO22", LE: "GPIO23", OE: "GPIO24", RowEnable: "GPIO18"}
}
