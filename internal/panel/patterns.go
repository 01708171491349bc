package panel

// SelfTest loads the power-up pattern: word i holds i in its low byte and
// the complement of i in its second byte, which shows as a diagonal grid.
func (s *Store) SelfTest() {
	for i := range s.words {
		v := uint32(i)
		s.words[i].Store(v | (0xff00 &^ (v << 8)))
	}
}

func (s *Store) Clear() {
	s.Fill(false)
}

func (s *Store) Fill(on bool) {
	for y := 0; y < s.geom.Height; y++ {
		for x := 0; x < s.geom.Width; x++ {
			s.SetPixel(x, y, on)
		}
	}
}

// Highlight clears the store and lights one full row (rowMode) or column.
// n wraps around the panel in both directions.
func (s *Store) Highlight(rowMode bool, n int) {
	s.Clear()
	if rowMode {
		y := wrap(n, s.geom.Height)
		for x := 0; x < s.geom.Width; x++ {
			s.SetPixel(x, y, true)
		}
		return
	}
	x := wrap(n, s.geom.Width)
	for y := 0; y < s.geom.Height; y++ {
		s.SetPixel(x, y, true)
	}
}

func wrap(n, m int) int {
	n %= m
	if n < 0 {
		n += m
	}
	return n
}

type Kind string

const (
	None        Kind = ""
	SelfTest    Kind = "selftest"
	Blank       Kind = "blank"
	Full        Kind = "full"
	RowSweep    Kind = "row_sweep"
	ColumnSweep Kind = "column_sweep"
)

// Kinds lists the patterns a Runner knows.
var Kinds = []Kind{SelfTest, Blank, Full, RowSweep, ColumnSweep}

// Runner steps a test pattern through a store, one frame per Step.
type Runner struct {
	kind Kind
	step int
}

func NewRunner(k Kind) *Runner { return &Runner{kind: k} }

func (r *Runner) Kind() Kind { return r.kind }

// Step draws the next frame; it returns false once the pattern is complete.
func (r *Runner) Step(s *Store) bool {
	g := s.Geometry()
	switch r.kind {
	case SelfTest, Blank, Full:
		if r.step > 0 {
			return false
		}
		switch r.kind {
		case SelfTest:
			s.SelfTest()
		case Blank:
			s.Clear()
		default:
			s.Fill(true)
		}
	case RowSweep:
		if r.step >= g.Height {
			return false
		}
		s.Highlight(true, r.step)
	case ColumnSweep:
		if r.step >= g.Width {
			return false
		}
		s.Highlight(false, r.step)
	default:
		return false
	}
	r.step++
	return true
}
