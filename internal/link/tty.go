package link

import (
	"strconv"
	"sync"

	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// TTY is the character terminal protocol of the sign:
//
//	z        cursor home
//	0-9 A-F  four pixels from a hex digit, least significant bit first
//	r c      select row or column highlight mode
//	+ -      step the highlighted row or column
//
// Other characters are ignored.
type TTY struct {
	store *panel.Store

	mu      sync.Mutex
	x, y    int
	rowMode bool
	n       int
}

func NewTTY(s *panel.Store) *TTY {
	return &TTY{store: s}
}

// Process consumes p and returns the reply to the last command in it that
// has one, or "".
func (t *TTY) Process(p []byte) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply := ""
	for _, c := range p {
		switch {
		case c == 'z':
			t.x, t.y = 0, 0
		case c >= '0' && c <= '9':
			t.nibble(c - '0')
		case c >= 'A' && c <= 'F':
			t.nibble(c - 'A' + 10)
		case c == 'r':
			t.rowMode, t.n = true, 0
			reply = "row mode selected\r\n"
		case c == 'c':
			t.rowMode, t.n = false, 0
			reply = "column mode selected\r\n"
		case c == '+' || c == '-':
			if c == '+' {
				t.n++
			} else {
				t.n--
			}
			reply = strconv.Itoa(t.n) + "\r\n"
			t.store.Highlight(t.rowMode, t.n)
		}
	}
	return reply
}

func (t *TTY) nibble(v byte) {
	g := t.store.Geometry()
	for i := 0; i < 4; i++ {
		t.store.SetPixel(t.x, t.y, v&1 != 0)
		v >>= 1
		t.x++
		if t.x >= g.Width {
			t.x = 0
			t.y++
		}
		if t.y >= g.Height {
			t.y = 0
		}
	}
}

// Cursor returns the next pixel a hex digit writes.
func (t *TTY) Cursor() (x, y int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.x, t.y
}
