package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Geometry struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Modules int `yaml:"modules"`
}

type SPI struct {
	Port    string `yaml:"port"`     // e.g. /dev/spidev0.0, "" for the first port
	SpeedHz int64  `yaml:"speed_hz"` // e.g. 1125000
}

// Pins are periph pin names, or line offsets with the gpiocdev driver.
type Pins struct {
	A0        string `yaml:"a0"`
	A1        string `yaml:"a1"`
	A2        string `yaml:"a2"`
	LE        string `yaml:"le"`
	OE        string `yaml:"oe"`
	RowEnable string `yaml:"row_enable"`
	CLK       string `yaml:"clk,omitempty"`
	MOSI      string `yaml:"mosi,omitempty"`
}

type USB struct {
	VID uint16 `yaml:"vid"`
	PID uint16 `yaml:"pid"`
}

type Config struct {
	Driver       string   `yaml:"driver"` // "sim" | "periph" | "gpiocdev"
	Geometry     Geometry `yaml:"geometry"`
	Brightness   *int     `yaml:"brightness,omitempty"`
	RefreshHz    int      `yaml:"refresh_hz"`
	SPI          SPI      `yaml:"spi,omitempty"`
	Pins         Pins     `yaml:"pins,omitempty"`
	GPIOChip     string   `yaml:"gpiochip,omitempty"` // e.g. gpiochip0
	DriverConfig *uint16  `yaml:"driver_config,omitempty"`
	Addr         string   `yaml:"addr"`
	USB          USB      `yaml:"usb,omitempty"`
	LogLevel     string   `yaml:"log_level"`
	Preview      bool     `yaml:"preview"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
