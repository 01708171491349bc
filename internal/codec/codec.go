// Package codec converts framebuffer rows into the bit order of the column
// driver shift chain.
//
// For one row address the chain holds one stripe per group of eight panel
// rows. Stripes are shifted out far stripe first. Each stripe starts with pad
// bytes for the unconnected driver outputs, followed by the module segments
// in reverse module order. Every segment is the module's slice of the row
// with its bits reversed within each byte and its bytes reversed.
package codec

import (
	"math/bits"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// DiagnosticFill marks stripes that have no source row, so a wiring fault
// looks different from dark pixels.
const DiagnosticFill byte = 0x55

const rowMask = Row(ledsign.RowGroups - 1)

// Row is a row address. It is always in [0, RowGroups).
type Row uint8

// NewRow returns n modulo RowGroups.
func NewRow(n int) Row {
	return Row(n) & rowMask
}

// Next returns the following row address, wrapping after the last.
func (r Row) Next() Row {
	return (r + 1) & rowMask
}

// Bit returns address line i (0 = A0).
func (r Row) Bit(i int) bool {
	return r&(1<<uint(i)) != 0
}

type Codec struct {
	store *panel.Store
	geom  panel.Geometry
}

func New(s *panel.Store) *Codec {
	return &Codec{store: s, geom: s.Geometry()}
}

// Size is the transmit buffer length.
func (c *Codec) Size() int {
	return c.geom.ShiftBytes()
}

// Encode fills dst with the shift chain contents for row r. dst must be
// exactly Size bytes long.
func (c *Codec) Encode(dst []byte, r Row) {
	if len(dst) != c.Size() {
		panic("codec: transmit buffer size mismatch")
	}
	r &= rowMask
	g := c.geom
	n := g.BytesPerModule()
	off := 0
	for s := g.Stripes() - 1; s >= 0; s-- {
		y := int(r) + s*ledsign.RowGroups
		stripe := dst[off : off+g.StripeBytes()]
		off += len(stripe)

		if y >= g.Height {
			fill(stripe, DiagnosticFill)
			continue
		}
		fill(stripe[:g.PadBytes], 0)
		seg := stripe[g.PadBytes:]
		for m := g.Modules - 1; m >= 0; m-- {
			c.copyReverse(seg[:n], y, m*n)
			seg = seg[n:]
		}
	}
}

// copyReverse copies len(dst) bytes of row y starting at byte base, with
// bit 0 of the first source byte landing on bit 7 of the last dst byte.
func (c *Codec) copyReverse(dst []byte, y, base int) {
	last := len(dst) - 1
	for i := range dst {
		dst[last-i] = bits.Reverse8(c.store.RowByte(y, base+i))
	}
}

// Decode is the inverse of Encode: it writes the rows carried by src for
// row address r back into the codec's store. Stripes without source rows
// are skipped.
func (c *Codec) Decode(src []byte, r Row) {
	if len(src) != c.Size() {
		panic("codec: transmit buffer size mismatch")
	}
	r &= rowMask
	g := c.geom
	n := g.BytesPerModule()
	off := 0
	for s := g.Stripes() - 1; s >= 0; s-- {
		y := int(r) + s*ledsign.RowGroups
		stripe := src[off : off+g.StripeBytes()]
		off += len(stripe)
		if y >= g.Height {
			continue
		}
		seg := stripe[g.PadBytes:]
		for m := g.Modules - 1; m >= 0; m-- {
			for i := 0; i < n; i++ {
				c.store.SetRowByte(y, m*n+i, bits.Reverse8(seg[n-1-i]))
			}
			seg = seg[n:]
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
