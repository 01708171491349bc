// Package imageload turns picture files into framebuffer images for the sign.
package imageload

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// Threshold is the gray level a pixel must exceed to light.
const Threshold = 0x7f

// LoadFile reads a PNG, GIF, JPEG or SVG file. SVG files are rasterized at
// w x h.
func LoadFile(path string, w, h int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		return SVG(f, w, h)
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imageload: %s: %w", path, err)
	}
	return img, nil
}

// SVG rasterizes an SVG document to fill w x h.
func SVG(r io.Reader, w, h int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, fmt.Errorf("imageload: svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)
	return img, nil
}

// Fit scales src to w x h.
func Fit(src image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Pack thresholds img into a store with geometry g and returns the store's
// bytes, ready for the bulk write path. Pixels beyond either image edge are
// off; the image is not scaled.
func Pack(g panel.Geometry, img image.Image) ([]byte, error) {
	s, err := panel.NewStore(g)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	for y := 0; y < g.Height && y < b.Dy(); y++ {
		for x := 0; x < g.Width && x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			s.SetPixel(x, y, c.Y > Threshold)
		}
	}
	buf := make([]byte, s.Len())
	s.CopyTo(buf)
	return buf, nil
}

// Frames splits a raw movie of 8-bit gray frames, w x h each, and returns the
// packed frames. A trailing partial frame is dropped.
func Frames(g panel.Geometry, raw []byte) ([][]byte, error) {
	n := g.Width * g.Height
	var out [][]byte
	for ; len(raw) >= n; raw = raw[n:] {
		img := &image.Gray{Pix: raw[:n], Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height)}
		p, err := Pack(g, img)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Chunks splits p into packets of at most size bytes.
func Chunks(p []byte, size int) [][]byte {
	var out [][]byte
	for len(p) > 0 {
		n := min(size, len(p))
		out = append(out, p[:n])
		p = p[n:]
	}
	return out
}
