package codec_test

import (
	"math/bits"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"

	. "github.com/coreman2200/funtimes-ledsign/internal/codec"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

var single = panel.Default()

var triple = panel.Geometry{Width: 120, Height: 20, Modules: 3, PadBytes: 1}

func newCodec(t *testing.T, g panel.Geometry) (*Codec, *panel.Store) {
	s, err := panel.NewStore(g)
	require.NoError(t, err)
	return New(s), s
}

func encode(c *Codec, r Row) []byte {
	buf := make([]byte, c.Size())
	c.Encode(buf, r)
	return buf
}

// fillerStripes returns which stripes of the buffer carry no source row.
func fillerStripes(g panel.Geometry, r Row) []bool {
	out := make([]bool, g.Stripes())
	for k := range out {
		s := g.Stripes() - 1 - k
		out[k] = int(r)+s*8 >= g.Height
	}
	return out
}

func countBits(g panel.Geometry, buf []byte, r Row) int {
	n := 0
	filler := fillerStripes(g, r)
	for k, skip := range filler {
		if skip {
			continue
		}
		for _, b := range buf[k*g.StripeBytes() : (k+1)*g.StripeBytes()] {
			n += bits.OnesCount8(b)
		}
	}
	return n
}

func TestRowWraps(t *testing.T) {
	assert.Equal(t, Row(0), NewRow(8))
	assert.Equal(t, Row(7), NewRow(-1))
	assert.Equal(t, Row(0), Row(7).Next())
	assert.Equal(t, Row(4), Row(3).Next())
	assert.True(t, Row(5).Bit(0))
	assert.False(t, Row(5).Bit(1))
	assert.True(t, Row(5).Bit(2))
}

func TestSizeIsFixed(t *testing.T) {
	for _, g := range []panel.Geometry{single, triple} {
		c, s := newCodec(t, g)
		s.SelfTest()
		for r := 0; r < 8; r++ {
			assert.Len(t, encode(c, Row(r)), g.ShiftBytes())
		}
	}
}

func TestEncodeOriginPixel(t *testing.T) {
	c, s := newCodec(t, single)
	s.SetPixel(0, 0, true)
	buf := encode(c, 0)

	want := make([]byte, 18)
	want[17] = 0x80
	assert.Equal(t, want, buf)
}

func TestEncodeSegmentReversal(t *testing.T) {
	c, s := newCodec(t, single)
	// the last pixel of row 8 ends up on bit 0 of the first byte of its segment
	s.SetPixel(39, 8, true)
	buf := encode(c, 0)
	assert.Equal(t, byte(0x01), buf[7])
	assert.Equal(t, 1, countBits(single, buf, 0))
}

func TestEncodeFillerStripe(t *testing.T) {
	c, s := newCodec(t, single)
	s.Fill(true)
	for r := 0; r < 8; r++ {
		t.Run("Given row "+strconv.Itoa(r), func(t *testing.T) {
			buf := encode(c, Row(r))
			top := buf[:6]
			if r > 3 {
				for _, b := range top {
					assert.Equal(t, DiagnosticFill, b)
				}
			} else {
				assert.Equal(t, []byte{0, 0xff, 0xff, 0xff, 0xff, 0xff}, top)
			}
			assert.Equal(t, byte(0), buf[6], "pad byte of a real stripe")
			assert.Equal(t, byte(0), buf[12])
		})
	}
}

func TestEncodeSinglePixel(t *testing.T) {
	for _, g := range []panel.Geometry{single, triple} {
		c, s := newCodec(t, g)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x += 3 {
				s.Clear()
				s.SetPixel(x, y, true)
				r := NewRow(y)
				first := encode(c, r)
				assert.Equal(t, 1, countBits(g, first, r), "pixel %d,%d", x, y)
				assert.Equal(t, first, encode(c, r), "encoding is deterministic")
			}
		}
	}
}

func TestEncodeModuleOrder(t *testing.T) {
	c, s := newCodec(t, triple)
	// first pixel of each module on row 0
	s.SetPixel(0, 0, true)
	s.SetPixel(40, 0, true)
	s.SetPixel(80, 0, true)
	s.SetPixel(80, 1, true)
	buf := encode(c, 0)

	stripe := buf[32:48]
	assert.Equal(t, byte(0), stripe[0])
	// module 2 is emitted first, module 0 last, each with its msb at the segment end
	assert.Equal(t, []byte{0, 0, 0, 0, 0x80}, stripe[1:6])
	assert.Equal(t, []byte{0, 0, 0, 0, 0x80}, stripe[6:11])
	assert.Equal(t, []byte{0, 0, 0, 0, 0x80}, stripe[11:16])
	assert.Equal(t, 3, countBits(triple, buf, 0))
}

func TestEncodeWrongSizePanics(t *testing.T) {
	c, _ := newCodec(t, single)
	assert.Panics(t, func() { c.Encode(make([]byte, 17), 0) })
	assert.Panics(t, func() { c.Decode(make([]byte, 19), 0) })
}

func TestDecodeRestoresRows(t *testing.T) {
	for _, g := range []panel.Geometry{single, triple} {
		t.Run(g.String(), func(t *testing.T) {
			c, s := newCodec(t, g)
			s.SelfTest()
			out, shown := newCodec(t, g)
			for r := 0; r < 8; r++ {
				out.Decode(encode(c, Row(r)), Row(r))
			}
			for y := 0; y < g.Height; y++ {
				for x := 0; x < g.Width; x++ {
					assert.Equal(t, s.Pixel(x, y), shown.Pixel(x, y), "pixel %d,%d", x, y)
				}
			}
		})
	}
}

func TestEncodeOverSPI(t *testing.T) {
	c, s := newCodec(t, single)
	s.SetPixel(0, 0, true)
	s.SetPixel(1, 9, true)

	want := make([]byte, 18)
	want[17] = 0x80
	p := spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{{W: want}},
		},
	}
	conn, err := p.Connect(1125*physic.KiloHertz, spi.Mode1|spi.LSBFirst, 8)
	require.NoError(t, err)

	var row1 []byte
	for r := 0; r < 2; r++ {
		buf := encode(c, Row(r))
		if r == 0 {
			require.NoError(t, conn.Tx(buf, nil))
		} else {
			row1 = buf
		}
	}
	assert.NoError(t, p.Close())
	assert.Equal(t, byte(0x40), row1[11])
}
