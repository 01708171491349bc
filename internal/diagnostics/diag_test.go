package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return at }

	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	h.Push(Diagnostic{Severity: Warn, Code: ScanOverrun, Summary: "overrun"})
	for _, c := range []<-chan Diagnostic{a, b} {
		d := <-c
		assert.Equal(t, ScanOverrun, d.Code)
		assert.Equal(t, at, d.Time)
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	c, cancel := h.Subscribe(1)
	defer cancel()

	h.Push(Diagnostic{Code: "A"})
	h.Push(Diagnostic{Code: "B"})
	d := <-c
	assert.Equal(t, "A", d.Code)
	select {
	case d := <-c:
		require.Fail(t, "unexpected event", d.Code)
	default:
	}
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Push(Diagnostic{Code: LinkUnknown}) })
}
