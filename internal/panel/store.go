package panel

import (
	"image"
	"image/color"
	"sync/atomic"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Store is the sign framebuffer: one bit per pixel, rows packed LSB first
// into little-endian 32-bit words and padded to a whole word.
//
// Pixel (x, y) is bit x%8 of byte y*PitchBytes()+x/8.
//
// The host link writes the store while the scan engine reads it, with no
// coordination between them. Every access is a single byte or pixel, so a
// reader may see a row that is half old and half new. That tearing is
// accepted; there is deliberately no way to read several bytes atomically.
type Store struct {
	geom  Geometry
	words []atomic.Uint32
}

// NewStore returns a cleared store for g.
func NewStore(g Geometry) (*Store, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		geom:  g,
		words: make([]atomic.Uint32, g.PitchWords()*g.Height),
	}, nil
}

func (s *Store) Geometry() Geometry {
	return s.geom
}

// Len is the store size in bytes.
func (s *Store) Len() int {
	return len(s.words) * 4
}

// ByteAt returns byte i of the store.
func (s *Store) ByteAt(i int) byte {
	return byte(s.words[i/4].Load() >> (uint(i%4) * 8))
}

// SetByte replaces byte i of the store.
func (s *Store) SetByte(i int, v byte) {
	w := &s.words[i/4]
	shift := uint(i%4) * 8
	mask := uint32(0xff) << shift
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old&^mask|uint32(v)<<shift) {
			return
		}
	}
}

// RowByte returns byte i of row y. Out-of-range arguments panic.
func (s *Store) RowByte(y, i int) byte {
	if y < 0 || y >= s.geom.Height || i < 0 || i >= s.geom.PitchBytes() {
		panic("panel: row byte out of range")
	}
	return s.ByteAt(y*s.geom.PitchBytes() + i)
}

// SetRowByte replaces byte i of row y. Out-of-range arguments panic.
func (s *Store) SetRowByte(y, i int, v byte) {
	if y < 0 || y >= s.geom.Height || i < 0 || i >= s.geom.PitchBytes() {
		panic("panel: row byte out of range")
	}
	s.SetByte(y*s.geom.PitchBytes()+i, v)
}

// Word returns 32-bit word i.
func (s *Store) Word(i int) uint32 {
	return s.words[i].Load()
}

func (s *Store) inside(x, y int) bool {
	return x >= 0 && x < s.geom.Width && y >= 0 && y < s.geom.Height
}

func (s *Store) bit(x, y int) (*atomic.Uint32, uint32) {
	return &s.words[y*s.geom.PitchWords()+x/32], 1 << uint(x%32)
}

// Pixel reports whether (x, y) is lit. Pixels outside the panel are off.
func (s *Store) Pixel(x, y int) bool {
	if !s.inside(x, y) {
		return false
	}
	w, b := s.bit(x, y)
	return w.Load()&b != 0
}

// SetPixel lights or clears (x, y). Pixels outside the panel are ignored.
func (s *Store) SetPixel(x, y int, on bool) {
	if !s.inside(x, y) {
		return
	}
	w, b := s.bit(x, y)
	if on {
		w.Or(b)
	} else {
		w.And(^b)
	}
}

// CopyTo copies the store into dst byte by byte and returns the count. The
// copy is not a snapshot.
func (s *Store) CopyTo(dst []byte) int {
	n := min(len(dst), s.Len())
	for i := 0; i < n; i++ {
		dst[i] = s.ByteAt(i)
	}
	return n
}

// ColorModel implements image.Image.
func (s *Store) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements image.Image.
func (s *Store) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.geom.Width, s.geom.Height)
}

// At implements image.Image.
func (s *Store) At(x, y int) color.Color {
	return image1bit.Bit(s.Pixel(x, y))
}

// Draw thresholds src into the store, aligning src's origin to (0, 0).
// Pixels src does not cover are cleared.
func (s *Store) Draw(src image.Image) {
	b := src.Bounds()
	for y := 0; y < s.geom.Height; y++ {
		for x := 0; x < s.geom.Width; x++ {
			p := image.Pt(b.Min.X+x, b.Min.Y+y)
			on := false
			if p.In(b) {
				on = bool(image1bit.BitModel.Convert(src.At(p.X, p.Y)).(image1bit.Bit))
			}
			s.SetPixel(x, y, on)
		}
	}
}
