package link

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-ledsign"
	diag "github.com/coreman2200/funtimes-ledsign/internal/diagnostics"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// ControlMsg is one message on /control. Either Request (with Value) or
// any of the named fields may be set.
type ControlMsg struct {
	Request    *int    `json:"request,omitempty"`
	Value      uint16  `json:"value,omitempty"`
	Reset      bool    `json:"reset,omitempty"`
	On         *bool   `json:"on,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	Special    *bool   `json:"special,omitempty"`
	Config     *uint16 `json:"config,omitempty"`
	RunTest    string  `json:"runTest,omitempty"`
}

// ControlReply answers every ControlMsg.
type ControlReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Health Health `json:"health"`
}

// Health is served on /health.
type Health struct {
	FrameID    uint64  `json:"frame_id"`
	UptimeS    float64 `json:"uptime_s"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Brightness int     `json:"brightness"`
	Armed      bool    `json:"armed"`
	Driver     string  `json:"driver"`
	Test       string  `json:"test,omitempty"`
	Scan       any     `json:"scan,omitempty"`
}

// Frame is broadcast on /frame. Bits is the displayed framebuffer in its
// packed layout.
type Frame struct {
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Pitch   int    `json:"pitch"`
	Bits    []byte `json:"bits"`
}

// Server exposes the host link over HTTP and websockets.
type Server struct {
	Store      *panel.Store // framebuffer written by the host
	Shown      *panel.Store // what the panel shows; Store if nil
	Dispatcher *Dispatcher
	Writer     *Writer
	TTY        *TTY
	Hub        *diag.Hub
	Driver     string
	FPS        int
	Clock      clockwork.Clock
	// Stats, when set, is reported under "scan" in Health.
	Stats func() any

	mu        sync.RWMutex
	clients   map[*websocket.Conn]bool
	runner    *panel.Runner
	frameID   uint64
	startTime time.Time
	upgrader  websocket.Upgrader
}

func (s *Server) init() {
	if s.clients == nil {
		s.clients = map[*websocket.Conn]bool{}
		s.startTime = s.clock().Now()
		s.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	}
}

func (s *Server) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (s *Server) shown() *panel.Store {
	if s.Shown != nil {
		return s.Shown
	}
	return s.Store
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	s.init()
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/data", s.HandleDataWS)
	mux.HandleFunc("/tty", s.HandleTTYWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/frame", s.HandleFramesWS)
	mux.HandleFunc("/health", s.HandleHealth)
	return withCORS(mux)
}

// RunFrameLoop steps the running test pattern and broadcasts the displayed
// frame FPS times a second until ctx is done.
func (s *Server) RunFrameLoop(ctx context.Context) error {
	fps := s.FPS
	if fps <= 0 {
		fps = 10
	}
	ticker := s.clock().NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		s.mu.Lock()
		if s.runner != nil && !s.runner.Step(s.Store) {
			done := s.runner.Kind()
			s.runner = nil
			s.push(diag.Diagnostic{Severity: diag.Info, Code: diag.TestDone, Summary: "Test complete", Detail: string(done)})
		}
		s.frameID++
		s.mu.Unlock()

		s.broadcastFrame()
	}
}

func (s *Server) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	events, cancel := s.Hub.Subscribe(32)
	go func() {
		defer func() {
			cancel()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		for d := range events {
			b, _ := json.Marshal(d)
			conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Msg("link: write diag")
				conn.Close()
				return
			}
		}
	}()
}

func (s *Server) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ControlMsg
		reply := ControlReply{OK: true}
		if err := json.Unmarshal(data, &msg); err != nil {
			reply.OK, reply.Error = false, err.Error()
		} else if err := s.applyControl(msg); err != nil {
			reply.OK, reply.Error = false, err.Error()
		}
		reply.Health = s.health()
		b, _ := json.Marshal(reply)
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

// HandleDataWS writes binary messages to the framebuffer. A text message
// "reset" rewinds the write cursor first, so a client can order both on
// one connection.
func (s *Server) HandleDataWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			_, _ = s.Writer.Write(data)
		case websocket.TextMessage:
			if string(data) == "reset" {
				s.Writer.Reset()
			}
		}
	}
}

func (s *Server) HandleTTYWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if reply := s.TTY.Process(data); reply != "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.health())
}

func (s *Server) health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.Store.Geometry()
	h := Health{
		FrameID:    s.frameID,
		UptimeS:    s.clock().Since(s.startTime).Seconds(),
		Width:      g.Width,
		Height:     g.Height,
		Brightness: s.Dispatcher.Driver.Brightness(),
		Armed:      s.Dispatcher.Panel.Armed(),
		Driver:     s.Driver,
	}
	if s.runner != nil {
		h.Test = string(s.runner.Kind())
	}
	if s.Stats != nil {
		h.Scan = s.Stats()
	}
	return h
}

func (s *Server) applyControl(msg ControlMsg) error {
	d := s.Dispatcher
	var errs []error
	if msg.Request != nil {
		errs = append(errs, d.Handle(ledsign.Request(*msg.Request), msg.Value))
	}
	if msg.Reset {
		errs = append(errs, d.Handle(ledsign.ResetWritePointer, 0))
	}
	if msg.Brightness != nil {
		v := *msg.Brightness
		if v < 0 || v > 255 {
			errs = append(errs, ErrValue)
		} else {
			errs = append(errs, d.Handle(ledsign.PanelBrightness, uint16(v)))
		}
	}
	if msg.Special != nil {
		errs = append(errs, d.Handle(ledsign.DriverSpecialMode, boolCode(*msg.Special)))
	}
	if msg.Config != nil {
		errs = append(errs, d.Handle(ledsign.DriverConfig, *msg.Config))
	}
	if msg.On != nil {
		errs = append(errs, d.Handle(ledsign.PanelOnOff, boolCode(*msg.On)))
	}
	if msg.RunTest != "" {
		errs = append(errs, s.runTest(panel.Kind(msg.RunTest)))
	}
	return errors.Join(errs...)
}

var errUnknownTest = errors.New("link: unknown test pattern")

func (s *Server) runTest(k panel.Kind) error {
	for _, known := range panel.Kinds {
		if k == known {
			s.mu.Lock()
			s.runner = panel.NewRunner(k)
			s.mu.Unlock()
			s.push(diag.Diagnostic{Severity: diag.Info, Code: diag.TestRunning, Summary: "Running test", Detail: string(k)})
			return nil
		}
	}
	s.push(diag.Diagnostic{
		Severity: diag.Warn, Code: diag.TestUnknown, Summary: "Unknown test name",
		Evidence: map[string]any{"name": string(k)},
	})
	return errUnknownTest
}

func (s *Server) broadcastFrame() {
	st := s.shown()
	g := st.Geometry()
	bits := make([]byte, st.Len())
	st.CopyTo(bits)

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _ := json.Marshal(Frame{
		T:       s.clock().Now().UnixNano(),
		FrameID: s.frameID,
		Width:   g.Width,
		Height:  g.Height,
		Pitch:   g.PitchBytes(),
		Bits:    bits,
	})
	for c := range s.clients {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Msg("link: write frame")
		}
	}
}

func (s *Server) push(d diag.Diagnostic) {
	if s.Hub != nil {
		s.Hub.Push(d)
	}
}

func boolCode(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
