// Package schedule turns a schedule configuration into the acquisition windows
// and timed start/stop events for one calendar day.
package schedule

import (
	"sort"
	"time"

	"github.com/shaneisley/acqsched/pkg/config"
)

// Action is what a scheduled event does to the acquisition process.
type Action int

const (
	BeginAcquisition Action = iota
	EndAcquisition
)

func (a Action) String() string {
	switch a {
	case BeginAcquisition:
		return "begin"
	case EndAcquisition:
		return "end"
	default:
		return "unknown"
	}
}

// Lower priorities fire first at equal timestamps, so an acquisition is always
// stopped before the next one is started at the same instant.
const (
	PriorityEnd   = 1
	PriorityBegin = 2
)

// Window is one acquisition run: the program must be running from Start to Stop.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Event is a start or stop bound to an absolute time.
type Event struct {
	FireAt   time.Time
	Priority int
	Action   Action
	Bound    time.Time
}

// ActiveLeg returns the first leg covering now's calendar date.
func ActiveLeg(legs []config.Leg, now time.Time) (config.Leg, bool) {
	for _, leg := range legs {
		if leg.Covers(now) {
			return leg, true
		}
	}
	return config.Leg{}, false
}

// Windows returns the acquisition windows for the rest of now's calendar day.
// Windows starting before now, ending after the active leg's stop time, or
// ending after midnight are left out.
func Windows(cfg *config.Config, now time.Time) []Window {
	leg, ok := ActiveLeg(cfg.Legs, now)
	if !ok {
		return nil
	}

	loc := now.Location()
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
	endOfDay := midnight.AddDate(0, 0, 1)

	timeStart := midnight
	if legStart := leg.Start.In(loc); sameDate(legStart, now) {
		timeStart = legStart
	}
	var timeStop time.Time
	if legStop := leg.Stop.In(loc); sameDate(legStop, now) {
		timeStop = legStop
	}
	if now.After(timeStart) {
		timeStart = now
	}

	var windows []Window
	for hour := timeStart.Hour(); hour < 24; hour++ {
		for _, minute := range cfg.StartMinutes {
			start := time.Date(year, month, day, hour, minute, 0, 0, loc)
			// Wall times skipped by a daylight saving jump normalise into
			// a neighbouring hour that already has its own windows.
			if start.Hour() != hour {
				continue
			}
			stop := start.Add(cfg.AcquisitionLength)
			if start.Before(timeStart) {
				continue
			}
			if !timeStop.IsZero() && stop.After(timeStop) {
				return windows
			}
			if stop.After(endOfDay) {
				return windows
			}
			windows = append(windows, Window{Start: start, Stop: stop})
		}
	}
	return windows
}

// Build returns the ordered begin and end events for the rest of now's
// calendar day.
func Build(cfg *config.Config, now time.Time) []Event {
	windows := Windows(cfg, now)
	events := make([]Event, 0, 2*len(windows))
	for _, w := range windows {
		events = append(events,
			Event{FireAt: w.Start, Priority: PriorityBegin, Action: BeginAcquisition, Bound: w.Start},
			Event{FireAt: w.Stop, Priority: PriorityEnd, Action: EndAcquisition, Bound: w.Stop},
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].FireAt.Equal(events[j].FireAt) {
			return events[i].Priority < events[j].Priority
		}
		return events[i].FireAt.Before(events[j].FireAt)
	})
	return events
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
