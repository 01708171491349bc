package scan_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/funtimes-ledsign/internal/codec"
	"github.com/coreman2200/funtimes-ledsign/internal/led"
	"github.com/coreman2200/funtimes-ledsign/internal/mbi5029"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
	. "github.com/coreman2200/funtimes-ledsign/internal/scan"
)

type fakeDriver struct {
	calls []string
	err   error
}

func (d *fakeDriver) SetMode(special bool) error {
	d.calls = append(d.calls, "mode "+strconv.FormatBool(special))
	return d.err
}

func (d *fakeDriver) Enable() error {
	d.calls = append(d.calls, "enable")
	return d.err
}

func (d *fakeDriver) Disable() error {
	d.calls = append(d.calls, "disable")
	return d.err
}

// lines records every level written to the address and latch lines.
type lines struct {
	events []string
	addr   [3]gpio.Level
	fail   map[string]error
}

type line struct {
	l    *lines
	name string
	bit  int
}

func (l line) Out(v gpio.Level) error {
	err := l.l.fail[l.name]
	if l.bit >= 0 {
		l.l.addr[l.bit] = v
		return err
	}
	s := "0"
	if v {
		s = "1"
	}
	l.l.events = append(l.l.events, l.name+"="+s)
	return err
}

func (l *lines) row() codec.Row {
	var r codec.Row
	for i, v := range l.addr {
		if v {
			r |= 1 << uint(i)
		}
	}
	return r
}

func (l *lines) bus() *led.Bus {
	return &led.Bus{
		Addr: [3]led.Line{line{l, "A0", 0}, line{l, "A1", 1}, line{l, "A2", 2}},
		LE:   line{l, "LE", -1},
		OE:   line{l, "OE", -1},
	}
}

// streamer records a copy of every buffer it is handed.
type streamer struct {
	bufs    [][]byte
	overrun bool
	err     error
}

func (s *streamer) Restart(buf []byte) (bool, error) {
	s.bufs = append(s.bufs, append([]byte(nil), buf...))
	return s.overrun, s.err
}

type fixture struct {
	store *panel.Store
	codec *codec.Codec
	drv   *fakeDriver
	lines *lines
	strm  *streamer
	c     *Controller
}

func newFixture(t *testing.T) *fixture {
	s, err := panel.NewStore(panel.Default())
	require.NoError(t, err)
	s.SelfTest()
	f := &fixture{store: s, codec: codec.New(s), drv: &fakeDriver{}, lines: &lines{}, strm: &streamer{}}
	f.c, err = New(f.codec, f.drv, f.lines.bus(), f.strm)
	require.NoError(t, err)
	return f
}

func (f *fixture) encoded(r codec.Row) []byte {
	buf := make([]byte, f.codec.Size())
	f.codec.Encode(buf, r)
	return buf
}

func TestNewValidates(t *testing.T) {
	f := newFixture(t)
	_, err := New(nil, f.drv, f.lines.bus(), f.strm)
	assert.Error(t, err)
	_, err = New(f.codec, f.drv, &led.Bus{}, f.strm)
	assert.Error(t, err)
}

func TestTickIdle(t *testing.T) {
	f := newFixture(t)
	f.c.Tick()
	assert.Empty(t, f.strm.bufs)
	assert.Empty(t, f.lines.events)
	assert.Equal(t, uint64(0), f.c.Stats().Ticks)
	assert.False(t, f.c.Armed())
}

func TestColdStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	f.c.Tick()

	assert.Equal(t, []string{"OE=0", "LE=0"}, f.lines.events, "no latch or enable on the first tick")
	require.Len(t, f.strm.bufs, 1)
	assert.Equal(t, f.encoded(0), f.strm.bufs[0])
	assert.Equal(t, codec.Row(0), f.c.Row())
}

func TestTickSequence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	f.c.Tick()
	f.lines.events = nil
	f.c.Tick()
	assert.Equal(t, []string{"OE=0", "LE=1", "OE=1", "LE=0"}, f.lines.events)
}

func TestRowSequence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())

	const sweeps = 10
	counts := make([]int, 8)
	var prev codec.Row
	for k := 0; k < sweeps*8; k++ {
		f.c.Tick()
		r := f.c.Row()
		assert.Equal(t, codec.NewRow(k), r, "tick %d", k)
		assert.Equal(t, f.encoded(r), f.strm.bufs[k])
		if k > 0 {
			// one step pipeline: the row shown now was shifted out last tick
			assert.Equal(t, prev, f.lines.row(), "tick %d", k)
			assert.Equal(t, prev, f.c.Shown())
		}
		counts[r]++
		prev = r
	}
	for r, n := range counts {
		assert.Equal(t, sweeps, n, "row %d", r)
	}
	st := f.c.Stats()
	assert.Equal(t, uint64(sweeps*8), st.Ticks)
	assert.Equal(t, uint64(sweeps-1), st.Frames)
	assert.True(t, st.Armed)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	require.NoError(t, f.c.Start())
	assert.Equal(t, []string{"mode false", "enable"}, f.drv.calls)

	f.c.Tick()
	f.c.Tick()
	require.NoError(t, f.c.Stop())
	require.NoError(t, f.c.Stop())
	assert.Equal(t, []string{"mode false", "enable", "disable", "mode true"}, f.drv.calls)
	assert.False(t, f.c.Armed())

	n := len(f.strm.bufs)
	f.c.Tick()
	assert.Len(t, f.strm.bufs, n, "idle controller does not transfer")

	// every start is a cold start
	require.NoError(t, f.c.Start())
	f.lines.events = nil
	f.c.Tick()
	assert.Equal(t, []string{"OE=0", "LE=0"}, f.lines.events)
	assert.Equal(t, codec.Row(0), f.c.Row())
}

func TestStartError(t *testing.T) {
	f := newFixture(t)
	f.drv.err = errors.New("boom")
	assert.Error(t, f.c.Start())
	assert.False(t, f.c.Armed())
}

func TestOverrun(t *testing.T) {
	f := newFixture(t)
	var hooked []codec.Row
	f.c.OnOverrun = func(r codec.Row) { hooked = append(hooked, r) }
	require.NoError(t, f.c.Start())

	f.strm.overrun = true
	f.c.Tick()
	f.c.Tick()
	f.strm.overrun = false
	f.c.Tick()

	assert.Len(t, f.strm.bufs, 3, "an overrun never skips the period")
	assert.Equal(t, uint64(2), f.c.Stats().Overruns)
	assert.Equal(t, []codec.Row{0, 1}, hooked)
}

func TestTransferErrorCounted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	f.strm.err = errors.New("spi gone")
	f.c.Tick()
	f.c.Tick()
	assert.Equal(t, uint64(2), f.c.Stats().TransferErrors)
	assert.Equal(t, codec.Row(1), f.c.Row())
}

func TestLineErrorsCounted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	f.lines.fail = map[string]error{"A1": errors.New("line gone")}
	f.c.Tick() // cold start writes no address
	assert.Equal(t, uint64(0), f.c.Stats().LineErrors)
	f.c.Tick()
	f.c.Tick()
	assert.Equal(t, uint64(2), f.c.Stats().LineErrors)
	assert.Equal(t, uint64(0), f.c.Stats().TransferErrors)
	assert.Len(t, f.strm.bufs, 3, "a failing line never skips the transfer")
}

func TestStopAttemptsEveryStep(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start())
	f.c.Tick()
	f.c.Tick()

	f.drv.err = errors.New("gate stuck")
	f.lines.events = nil
	err := f.c.Stop()
	assert.ErrorIs(t, err, f.drv.err)
	assert.False(t, f.c.Armed())
	assert.Equal(t, []string{"mode false", "enable", "disable", "mode true"}, f.drv.calls)
	assert.Equal(t, []string{"OE=0"}, f.lines.events, "column outputs are forced off")
}

func TestScanOnSim(t *testing.T) {
	g := panel.Default()
	sim, bus, err := led.NewSim(g)
	require.NoError(t, err)
	store, err := panel.NewStore(g)
	require.NoError(t, err)
	store.SelfTest()

	drv, err := mbi5029.New(bus, &mbi5029.Opts{Chips: g.Chips(), Period: 1000, Freq: mbi5029.DefaultOpts.Freq})
	require.NoError(t, err)
	rec := &conntest.Record{Conn: sim}
	cd := codec.New(store)
	c, err := New(cd, drv, bus, Sync{C: rec})
	require.NoError(t, err)

	require.NoError(t, c.Start())
	assert.False(t, sim.Special())
	assert.False(t, sim.Dark())

	for k := 0; k < 9; k++ {
		c.Tick()
	}
	require.Len(t, rec.Ops, 9)
	for k, op := range rec.Ops {
		want := make([]byte, cd.Size())
		cd.Encode(want, codec.NewRow(k))
		assert.Equal(t, want, op.W, "transfer %d", k)
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			require.Equal(t, store.Pixel(x, y), sim.Shown().Pixel(x, y), "pixel %d,%d", x, y)
		}
	}

	require.NoError(t, c.Stop())
	assert.True(t, sim.Dark())
	assert.True(t, sim.Special())
}
