package preview_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/funtimes-ledsign/internal/panel"
	. "github.com/coreman2200/funtimes-ledsign/internal/preview"
)

// lineDrawer is a one-line drawer that keeps the text of every row drawn.
type lineDrawer struct {
	mu     sync.Mutex
	w      int
	rows   []string
	halted bool
	err    error
}

func (l *lineDrawer) String() string { return "line" }

func (l *lineDrawer) Halt() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = true
	return nil
}

func (l *lineDrawer) ColorModel() color.Model { return color.GrayModel }

func (l *lineDrawer) Bounds() image.Rectangle { return image.Rect(0, 0, l.w, 1) }

func (l *lineDrawer) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

func (l *lineDrawer) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	var b strings.Builder
	for x := 0; x < r.Dx(); x++ {
		if color.GrayModel.Convert(src.At(sp.X+x, sp.Y)).(color.Gray).Y > 0x7f {
			b.WriteByte('#')
		} else {
			b.WriteByte('.')
		}
	}
	l.rows = append(l.rows, b.String())
	return nil
}

func smallStore(t *testing.T) *panel.Store {
	s, err := panel.NewStore(panel.Geometry{Width: 8, Height: 3, Modules: 1, PadBytes: 1})
	require.NoError(t, err)
	s.SetPixel(0, 0, true)
	s.SetPixel(7, 2, true)
	return s
}

func TestRender(t *testing.T) {
	s := smallStore(t)
	d := &lineDrawer{w: 8}
	out := &bytes.Buffer{}
	c := New(d, out, s)

	require.NoError(t, c.Render())
	assert.Equal(t, []string{"#.......", "........", ".......#"}, d.rows)
	assert.Equal(t, "\n\n\n\n", out.String())
}

func TestRenderError(t *testing.T) {
	d := &lineDrawer{w: 8, err: errors.New("gone")}
	c := New(d, &bytes.Buffer{}, smallStore(t))
	assert.Error(t, c.Render())
}

func TestRun(t *testing.T) {
	d := &lineDrawer{w: 8}
	c := New(d, &bytes.Buffer{}, smallStore(t))
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, clock, time.Second) }()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return d.Rows() == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, d.halted)
	assert.Len(t, d.rows, 3)
}
