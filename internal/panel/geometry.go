package panel

import (
	"errors"
	"fmt"

	"github.com/coreman2200/funtimes-ledsign"
)

var ErrGeometry = errors.New("panel: invalid geometry")

// Geometry describes the sign: its pixel size, how many driver modules are
// chained along the x axis and how many unconnected pad bytes lead every
// stripe in the shift chain.
type Geometry struct {
	Width    int
	Height   int
	Modules  int
	PadBytes int
}

// Default is the single 40x20 module with nine 16-bit column drivers.
func Default() Geometry {
	return Geometry{
		Width:    ledsign.DefaultWidth,
		Height:   ledsign.DefaultHeight,
		Modules:  ledsign.DefaultModules,
		PadBytes: 1,
	}
}

func (g Geometry) Validate() error {
	switch {
	case g.Width <= 0 || g.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrGeometry, g.Width, g.Height)
	case g.Modules <= 0:
		return fmt.Errorf("%w: %d modules", ErrGeometry, g.Modules)
	case g.Width%g.Modules != 0:
		return fmt.Errorf("%w: width %d not divisible into %d modules", ErrGeometry, g.Width, g.Modules)
	case g.ModuleWidth()%8 != 0:
		return fmt.Errorf("%w: module width %d is not a whole number of bytes", ErrGeometry, g.ModuleWidth())
	case g.PadBytes < 0:
		return fmt.Errorf("%w: %d pad bytes", ErrGeometry, g.PadBytes)
	}
	return nil
}

// PitchWords is the row pitch in 32-bit words.
func (g Geometry) PitchWords() int {
	return (g.Width + 31) / 32
}

// PitchBytes is the row pitch in bytes, always a whole number of words.
func (g Geometry) PitchBytes() int {
	return g.PitchWords() * 4
}

// RowBytes is the number of bytes in a row that carry pixels.
func (g Geometry) RowBytes() int {
	return (g.Width + 7) / 8
}

func (g Geometry) ModuleWidth() int {
	return g.Width / g.Modules
}

func (g Geometry) BytesPerModule() int {
	return g.ModuleWidth() / 8
}

// Stripes is the number of row stripes sharing one row address.
func (g Geometry) Stripes() int {
	return (g.Height + ledsign.RowGroups - 1) / ledsign.RowGroups
}

// StripeBytes is the length of one stripe in the shift chain.
func (g Geometry) StripeBytes() int {
	return g.PadBytes + g.Modules*g.BytesPerModule()
}

// ShiftBytes is the length of the whole shift chain, the transmit buffer size.
func (g Geometry) ShiftBytes() int {
	return g.Stripes() * g.StripeBytes()
}

// Chips is the number of 16-bit driver chips in the chain.
func (g Geometry) Chips() int {
	return (g.ShiftBytes() + 1) / 2
}

// Size is the framebuffer size in bytes.
func (g Geometry) Size() int {
	return g.PitchBytes() * g.Height
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d/%d", g.Width, g.Height, g.Modules)
}
