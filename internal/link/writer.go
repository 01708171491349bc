package link

import (
	"sync"

	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// Writer is the bulk write path: bytes land in the framebuffer at a cursor
// that wraps to the start at the end of the buffer.
type Writer struct {
	store *panel.Store

	mu  sync.Mutex
	pos int
}

func NewWriter(s *panel.Store) *Writer {
	return &Writer{store: s}
}

// Write implements io.Writer. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.store.Len()
	for _, b := range p {
		w.store.SetByte(w.pos, b)
		w.pos++
		if w.pos == n {
			w.pos = 0
		}
	}
	return len(p), nil
}

// Reset moves the cursor back to the start of the framebuffer.
func (w *Writer) Reset() {
	w.mu.Lock()
	w.pos = 0
	w.mu.Unlock()
}

// Pos returns the cursor.
func (w *Writer) Pos() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}
