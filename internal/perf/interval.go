package perf

import (
	"time"

	"chaos-harness/internal/history"
)

// Intervals derives the activity windows for one fault category by
// pairing each start-tagged invocation with the next stop-tagged one.
// A start with no following stop yields an open interval. A second start
// while a window is open breaks the no-overlap invariant: the open window
// is closed at the second start and a violation is recorded, so the
// result is always non-overlapping.
func Intervals(ops []history.Op, spec FaultSpec, start time.Time) ([]Interval, []Violation) {
	starts := tagSet(spec.Start)
	stops := tagSet(spec.Stop)

	var intervals []Interval
	var violations []Violation
	var open *float64

	for _, op := range ops {
		if !op.IsInvoke() {
			continue
		}
		t := op.Time.Sub(start).Seconds()
		switch {
		case starts[op.F]:
			if open != nil {
				at := t
				intervals = append(intervals, Interval{Start: *open, Stop: &at})
				violations = append(violations, Violation{
					Category: spec.Category,
					T:        t,
					Msg:      "started twice without an intervening stop",
				})
			}
			from := t
			open = &from
		case stops[op.F]:
			if open != nil {
				at := t
				intervals = append(intervals, Interval{Start: *open, Stop: &at})
				open = nil
			}
		}
	}

	if open != nil {
		intervals = append(intervals, Interval{Start: *open, Stop: nil})
	}
	return intervals, violations
}

func tagSet(fs []history.F) map[history.F]bool {
	set := make(map[history.F]bool, len(fs))
	for _, f := range fs {
		set[f] = true
	}
	return set
}
