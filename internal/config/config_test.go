package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
driver: periph
geometry:
  width: 120
  height: 20
  modules: 3
brightness: 200
refresh_hz: 250
spi:
  port: /dev/spidev0.0
  speed_hz: 1125000
pins:
  a0: GPIO5
  a1: GPIO6
  a2: GPIO13
  le: GPIO19
  oe: GPIO26
  row_enable: GPIO18
driver_config: 0x7f
addr: ":9090"
usb:
  vid: 0x4e65
  pid: 0x7264
log_level: debug
preview: true
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "periph", c.Driver)
	assert.Equal(t, Geometry{Width: 120, Height: 20, Modules: 3}, c.Geometry)
	require.NotNil(t, c.Brightness)
	assert.Equal(t, 200, *c.Brightness)
	assert.Equal(t, int64(1125000), c.SPI.SpeedHz)
	assert.Equal(t, "GPIO18", c.Pins.RowEnable)
	assert.Empty(t, c.Pins.CLK)
	require.NotNil(t, c.DriverConfig)
	assert.Equal(t, uint16(0x7f), *c.DriverConfig)
	assert.Equal(t, USB{VID: 0x4e65, PID: 0x7264}, c.USB)
	assert.True(t, c.Preview)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	code := uint16(0x25)
	level := 64
	in := &Config{
		Driver:       "sim",
		Geometry:     Geometry{Width: 40, Height: 20, Modules: 1},
		Brightness:   &level,
		DriverConfig: &code,
		Addr:         ":8080",
	}
	require.NoError(t, Save(path, in))
	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestZeroBrightnessPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	dark := 0
	require.NoError(t, Save(path, &Config{Brightness: &dark}))
	out, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, out.Brightness)
	assert.Equal(t, 0, *out.Brightness)

	require.NoError(t, Save(path, &Config{}))
	out, err = Load(path)
	require.NoError(t, err)
	assert.Nil(t, out.Brightness, "unset brightness is omitted")
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
