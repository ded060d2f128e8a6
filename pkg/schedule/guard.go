package schedule

import (
	"time"

	"github.com/shaneisley/acqsched/pkg/config"
)

// Guard re-validates fired events against the configured offsets.
type Guard struct {
	startMinutes []int
	length       time.Duration
	tolerance    time.Duration
}

// NewGuard creates a guard for cfg.
func NewGuard(cfg *config.Config) *Guard {
	return &Guard{
		startMinutes: append([]int(nil), cfg.StartMinutes...),
		length:       cfg.AcquisitionLength,
		tolerance:    cfg.Tolerance,
	}
}

// Deviation is the distance, within the hour, between bound and the nearest
// offset expected for action. Begin events are expected on a start minute, end
// events on a start minute plus the acquisition length.
func (g *Guard) Deviation(action Action, bound time.Time) time.Duration {
	offset := time.Duration(bound.Minute())*time.Minute +
		time.Duration(bound.Second())*time.Second +
		time.Duration(bound.Nanosecond())

	best := time.Hour
	for _, m := range g.startMinutes {
		expected := time.Duration(m) * time.Minute
		if action == EndAcquisition {
			expected = (expected + g.length) % time.Hour
		}
		d := offset - expected
		if d < 0 {
			d = -d
		}
		if d > 30*time.Minute {
			d = time.Hour - d
		}
		if d < best {
			best = d
		}
	}
	return best
}

// Accept reports whether an event bound to bound is close enough to the
// schedule to act on.
func (g *Guard) Accept(action Action, bound time.Time) bool {
	return g.Deviation(action, bound) <= g.tolerance
}
