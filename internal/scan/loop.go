package scan

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
)

// Ticker is stepped once per period by a Looper. *Controller implements it.
type Ticker interface {
	Tick()
}

// Looper is the scan timer: it calls Tick at a fixed frequency.
type Looper struct {
	clock  clockwork.Clock
	period time.Duration
	t      Ticker
}

// NewLooper returns a looper stepping t at f. A nil clock is the real one.
func NewLooper(clock clockwork.Clock, f physic.Frequency, t Ticker) *Looper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Looper{clock: clock, period: f.Period(), t: t}
}

func (l *Looper) Period() time.Duration {
	return l.period
}

// Run ticks until ctx is done.
func (l *Looper) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()
	log.Debug().Dur("period", l.period).Msg("scan: loop running")

	for {
		select {
		case <-ticker.Chan():
			l.t.Tick()
		case <-ctx.Done():
			log.Debug().Msg("scan: loop done")
			return nil
		}
	}
}
