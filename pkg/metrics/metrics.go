package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Counters tracks what the scheduler has done since it started. All methods
// are safe for concurrent use.
type Counters struct {
	startedAt time.Time

	rebuilds   atomic.Int64
	scheduled  atomic.Int64
	dropped    atomic.Int64
	begins     atomic.Int64
	ends       atomic.Int64
	suppressed atomic.Int64
	failures   atomic.Int64
	panics     atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	StartedAt  time.Time `json:"started_at"`
	Rebuilds   int64     `json:"rebuilds"`
	Scheduled  int64     `json:"scheduled_windows"`
	Dropped    int64     `json:"dropped_events"`
	Begins     int64     `json:"begins"`
	Ends       int64     `json:"ends"`
	Suppressed int64     `json:"suppressed"`
	Failures   int64     `json:"failures"`
	Panics     int64     `json:"panics"`
}

// NewCounters creates zeroed counters stamped with now.
func NewCounters(now time.Time) *Counters {
	return &Counters{startedAt: now}
}

// RecordRebuild counts one day rebuild and the windows and stale events it produced.
func (c *Counters) RecordRebuild(windows, dropped int) {
	c.rebuilds.Add(1)
	c.scheduled.Add(int64(windows))
	c.dropped.Add(int64(dropped))
}

func (c *Counters) RecordBegin()      { c.begins.Add(1) }
func (c *Counters) RecordEnd()        { c.ends.Add(1) }
func (c *Counters) RecordSuppressed() { c.suppressed.Add(1) }
func (c *Counters) RecordFailure()    { c.failures.Add(1) }
func (c *Counters) RecordPanic()      { c.panics.Add(1) }

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:  c.startedAt,
		Rebuilds:   c.rebuilds.Load(),
		Scheduled:  c.scheduled.Load(),
		Dropped:    c.dropped.Load(),
		Begins:     c.begins.Load(),
		Ends:       c.ends.Load(),
		Suppressed: c.suppressed.Load(),
		Failures:   c.failures.Load(),
		Panics:     c.panics.Load(),
	}
}

// Status renders a one-line summary suitable for a service manager status field.
func (s Snapshot) Status() string {
	return fmt.Sprintf("begins=%d ends=%d suppressed=%d failures=%d",
		s.Begins, s.Ends, s.Suppressed, s.Failures)
}
