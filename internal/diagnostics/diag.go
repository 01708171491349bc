// Package diagnostics carries structured events about the scan and the host
// link to whoever is listening.
package diagnostics

import (
	"sync"
	"time"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

// Event codes.
const (
	ScanOverrun    = "SCAN.OVERRUN"
	ScanStarted    = "SCAN.STARTED"
	ScanStopped    = "SCAN.STOPPED"
	LinkUnknown    = "LINK.UNKNOWN"
	LinkBadValue   = "LINK.VALUE"
	DriverMode     = "DRIVER.MODE"
	DriverConfig   = "DRIVER.CONFIG"
	DriverFallback = "DRIVER.FALLBACK"
	TestRunning    = "TEST.RUNNING"
	TestDone       = "TEST.DONE"
	TestUnknown    = "TEST.UNKNOWN"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Sink accepts diagnostics. Push must not block.
type Sink interface {
	Push(d Diagnostic)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Push(Diagnostic) {}

// Hub fans diagnostics out to subscribers. Slow subscribers lose events
// rather than stall the sender.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Diagnostic]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Diagnostic]struct{}{}, now: time.Now}
}

// Push implements Sink. A zero Time is set to now.
func (h *Hub) Push(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		select {
		case c <- d:
		default:
		}
	}
}

// Subscribe returns a channel of diagnostics buffered to n and a function
// that cancels the subscription and closes the channel.
func (h *Hub) Subscribe(n int) (<-chan Diagnostic, func()) {
	c := make(chan Diagnostic, n)
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, c)
			h.mu.Unlock()
			close(c)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
