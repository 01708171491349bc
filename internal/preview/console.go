// Package preview renders what the sign shows onto a terminal.
package preview

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/extra/devices/screen"
)

// Console draws src onto a one-line drawer row by row, ending each row with
// a newline.
type Console struct {
	drawer display.Drawer
	out    io.Writer
	src    image.Image
}

// NewConsole returns a Console printing src with ANSI colors on stdout.
func NewConsole(src image.Image) *Console {
	return New(screen.New(src.Bounds().Dx()), os.Stdout, src)
}

// New returns a Console drawing src on d and writing row breaks to out.
func New(d display.Drawer, out io.Writer, src image.Image) *Console {
	return &Console{drawer: d, out: out, src: src}
}

func (c *Console) String() string {
	return "preview(" + c.drawer.String() + ")"
}

// Render draws one frame.
func (c *Console) Render() error {
	b := c.src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if err := c.drawer.Draw(c.drawer.Bounds(), c.src, image.Pt(b.Min.X, y)); err != nil {
			return fmt.Errorf("preview: draw row %d: %w", y, err)
		}
		fmt.Fprint(c.out, "\n")
	}
	fmt.Fprint(c.out, "\n")
	return nil
}

// Run renders every period until ctx is done. A nil clock is the real one.
func (c *Console) Run(ctx context.Context, clock clockwork.Clock, every time.Duration) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if err := c.Render(); err != nil {
				log.Error().Err(err).Msg("preview: render")
				return err
			}
		case <-ctx.Done():
			return c.drawer.Halt()
		}
	}
}
