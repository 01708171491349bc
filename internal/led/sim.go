package led

import (
	"errors"
	"image"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/coreman2200/funtimes-ledsign/internal/codec"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

type role int

const (
	roleA0 role = iota
	roleA1
	roleA2
	roleLE
	roleOE
	roleRowEnable
	roleCLK
	roleMOSI
)

// Sim emulates a sign on the bus: it shifts transmitted bytes into a
// virtual driver chain, latches them on LE and shows the latched row on the
// addressed stripes whenever the outputs are enabled. It also follows the
// bit-banged mode handshake and configuration writes.
type Sim struct {
	mu      sync.Mutex
	geom    panel.Geometry
	chain   []byte
	latched []byte
	shown   *panel.Store
	dec     *codec.Codec

	addr      codec.Row
	le, oe    bool
	clk, mosi bool
	dark      bool
	duty      gpio.Duty
	freq      physic.Frequency

	clkOwned  bool
	mosiOwned bool
	edges     int
	special   bool
	config    uint16
	transfers uint64
}

// NewSim returns a simulated sign for g and the bus wired to it.
func NewSim(g panel.Geometry) (*Sim, *Bus, error) {
	shown, err := panel.NewStore(g)
	if err != nil {
		return nil, nil, err
	}
	s := &Sim{
		geom:    g,
		chain:   make([]byte, g.ShiftBytes()),
		latched: make([]byte, g.ShiftBytes()),
		shown:   shown,
		dec:     codec.New(shown),
		dark:    true,
	}
	b := &Bus{
		Name:      "sim",
		Conn:      s,
		Addr:      [3]Line{&simLine{s, roleA0}, &simLine{s, roleA1}, &simLine{s, roleA2}},
		LE:        &simLine{s, roleLE},
		OE:        &simLine{s, roleOE},
		RowEnable: &simLine{s, roleRowEnable},
		CLK:       &simLine{s, roleCLK},
		MOSI:      &simLine{s, roleMOSI},
		CLKMux:    &simMux{s, roleCLK},
		MOSIMux:   &simMux{s, roleMOSI},
	}
	return s, b, nil
}

// String implements conn.Resource.
func (s *Sim) String() string {
	return "sim" + s.geom.String()
}

// Duplex implements conn.Conn.
func (s *Sim) Duplex() conn.Duplex {
	return conn.Half
}

// Tx implements conn.Conn. Bytes are shifted into the chain; reads are not
// supported.
func (s *Sim) Tx(w, r []byte) error {
	if len(r) != 0 {
		return errSimRead
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shiftIn(w)
	s.transfers++
	return nil
}

// TxPackets implements spi.Conn.
func (s *Sim) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := s.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sim) shiftIn(w []byte) {
	n := len(s.chain)
	if len(w) >= n {
		copy(s.chain, w[len(w)-n:])
		return
	}
	copy(s.chain, s.chain[len(w):])
	copy(s.chain[n-len(w):], w)
}

// Frame is what the sign currently shows.
func (s *Sim) Frame() image.Image {
	return s.shown
}

// Shown is the store behind Frame.
func (s *Sim) Shown() *panel.Store {
	return s.shown
}

// Latched returns a copy of the driver output latches.
func (s *Sim) Latched() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.latched...)
}

// Special reports whether the drivers were last switched into special mode.
func (s *Sim) Special() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.special
}

// Dark reports whether the row drivers are held off.
func (s *Sim) Dark() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dark
}

// Duty returns the row-enable PWM duty and frequency.
func (s *Sim) Duty() (gpio.Duty, physic.Frequency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty, s.freq
}

// Config returns the last configuration word clocked into the drivers.
func (s *Sim) Config() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Transfers counts completed Tx calls.
func (s *Sim) Transfers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers
}

// Row returns the row address on the address lines.
func (s *Sim) Row() codec.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Sim) set(r role, l gpio.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := bool(l)
	switch r {
	case roleA0, roleA1, roleA2:
		bit := codec.Row(1) << uint(r-roleA0)
		if v {
			s.addr |= bit
		} else {
			s.addr &^= bit
		}
	case roleLE:
		if v && !s.le {
			copy(s.latched, s.chain)
		}
		s.le = v
	case roleOE:
		if v && !s.oe && !s.clkOwned {
			s.dec.Decode(s.latched, s.addr)
		}
		s.oe = v
	case roleRowEnable:
		s.dark = v
		s.duty = 0
	case roleCLK:
		if v && !s.clk && s.clkOwned {
			s.rising()
		}
		s.clk = v
	case roleMOSI:
		s.mosi = v
	}
}

// rising handles a bit-banged clock edge.
func (s *Sim) rising() {
	if s.mosiOwned {
		s.config >>= 1
		if s.mosi {
			s.config |= 0x8000
		}
		return
	}
	if s.edges == 3 {
		s.special = s.le
	}
	s.edges++
}

func (s *Sim) pwm(d gpio.Duty, f physic.Frequency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duty, s.freq = d, f
	s.dark = d >= gpio.DutyMax
}

func (s *Sim) own(r role, owned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r {
	case roleCLK:
		s.clkOwned = owned
		s.edges = 0
		if owned {
			s.clk = false
		}
	case roleMOSI:
		s.mosiOwned = owned
	}
}

type simLine struct {
	s *Sim
	r role
}

func (l *simLine) Out(v gpio.Level) error {
	l.s.set(l.r, v)
	return nil
}

func (l *simLine) PWM(d gpio.Duty, f physic.Frequency) error {
	if l.r != roleRowEnable {
		return ErrNoPWM
	}
	l.s.pwm(d, f)
	return nil
}

type simMux struct {
	s *Sim
	r role
}

func (m *simMux) Acquire() error {
	m.s.own(m.r, true)
	return nil
}

func (m *simMux) Release() error {
	m.s.own(m.r, false)
	return nil
}

var errSimRead = errors.New("led: sim bus is write only")
