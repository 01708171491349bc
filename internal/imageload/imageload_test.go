package imageload

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

func gray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestPackThreshold(t *testing.T) {
	g := panel.Default()
	img := gray(40, 20, 0)
	img.SetGray(0, 0, color.Gray{Y: 0xff})
	img.SetGray(1, 0, color.Gray{Y: Threshold})
	img.SetGray(33, 0, color.Gray{Y: Threshold + 1})
	img.SetGray(39, 19, color.Gray{Y: 200})

	buf, err := Pack(g, img)
	require.NoError(t, err)
	require.Len(t, buf, g.Size())

	want := make([]byte, g.Size())
	want[0] = 0x01
	want[4] = 0x02
	want[19*8+4] = 0x80
	assert.Equal(t, want, buf)
}

func TestPackSmallImage(t *testing.T) {
	g := panel.Default()
	buf, err := Pack(g, gray(10, 2, 0xff))
	require.NoError(t, err)

	s, err := panel.NewStore(g)
	require.NoError(t, err)
	for i, b := range buf {
		s.SetByte(i, b)
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			assert.Equal(t, x < 10 && y < 2, s.Pixel(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestPackOffsetBounds(t *testing.T) {
	g := panel.Default()
	img := gray(50, 30, 0).SubImage(image.Rect(5, 5, 45, 25)).(*image.Gray)
	img.SetGray(5, 5, color.Gray{Y: 0xff})
	buf, err := Pack(g, img)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), buf[0])
}

func TestFrames(t *testing.T) {
	g := panel.Default()
	raw := make([]byte, 2*800+100)
	raw[800] = 0xff

	frames, err := Frames(g, raw)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, byte(0), frames[0][0])
	assert.Equal(t, byte(1), frames[1][0])
}

func TestChunks(t *testing.T) {
	p := make([]byte, 160)
	var sizes []int
	for _, c := range Chunks(p, 64) {
		sizes = append(sizes, len(c))
	}
	assert.Equal(t, []int{64, 64, 32}, sizes)
	assert.Empty(t, Chunks(nil, 64))
}

func TestFit(t *testing.T) {
	dst := Fit(gray(4, 2, 0xff), 40, 20)
	assert.Equal(t, image.Rect(0, 0, 40, 20), dst.Bounds())
	assert.Equal(t, uint8(0xff), dst.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0xff), dst.GrayAt(39, 19).Y)
}

const halfSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10">
<rect x="0" y="0" width="10" height="5" fill="#ffffff"/>
</svg>`

func TestSVG(t *testing.T) {
	img, err := SVG(strings.NewReader(halfSVG), 40, 20)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())

	buf, err := Pack(panel.Default(), img)
	require.NoError(t, err)
	s, err := panel.NewStore(panel.Default())
	require.NoError(t, err)
	for i, b := range buf {
		s.SetByte(i, b)
	}
	assert.True(t, s.Pixel(20, 2))
	assert.False(t, s.Pixel(20, 15))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "dot.png")
	f, err := os.Create(name)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gray(3, 3, 0xff)))
	require.NoError(t, f.Close())

	img, err := LoadFile(name, 40, 20)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 3), img.Bounds())

	svg := filepath.Join(dir, "half.SVG")
	require.NoError(t, os.WriteFile(svg, []byte(halfSVG), 0o644))
	img, err = LoadFile(svg, 40, 20)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())

	_, err = LoadFile(filepath.Join(dir, "missing.png"), 40, 20)
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("nope"), 0o644))
	_, err = LoadFile(junk, 40, 20)
	assert.Error(t, err)
}
