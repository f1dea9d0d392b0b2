// Package perf turns an operation history into time-windowed performance
// series correlated with fault-activity windows. Everything here is pure
// computation over an immutable history; rendering is someone else's job.
package perf

import (
	"fmt"
	"sort"
	"time"

	"chaos-harness/internal/history"
)

// Point is one sample: T in seconds since the start of the history, V in
// the unit of its series (milliseconds for latency, Hz for rates).
type Point struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// Series is one labeled, time-ordered curve.
type Series struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// FaultSpec declares how one fault category appears in the history: the
// function tags that open and close its activity windows, plus a fill
// hint passed through to renderers.
type FaultSpec struct {
	Category string      `json:"category"`
	Start    []history.F `json:"start"`
	Stop     []history.F `json:"stop"`
	FillHint string      `json:"fill_hint,omitempty"`
}

// Interval is one fault-activity window in seconds since the start of
// the history. Stop is nil when no stop was observed; the window then
// extends through the end of the history.
type Interval struct {
	Start float64  `json:"start"`
	Stop  *float64 `json:"stop"`
}

// Region holds all activity windows derived for one category.
type Region struct {
	Category  string     `json:"category"`
	FillHint  string     `json:"fill_hint,omitempty"`
	Intervals []Interval `json:"intervals"`
}

// Violation records a break of the no-overlap invariant found while
// pairing start and stop operations. One always indicates a scheduling
// bug upstream.
type Violation struct {
	Category string  `json:"category"`
	T        float64 `json:"t"`
	Msg      string  `json:"msg"`
}

// Report is the full analysis output, JSON-marshalable for archiving.
type Report struct {
	Duration   float64     `json:"duration"`
	Window     float64     `json:"window"`
	Latency    []Series    `json:"latency"`
	Rate       []Series    `json:"rate"`
	Regions    []Region    `json:"regions"`
	Violations []Violation `json:"violations,omitempty"`
	NoData     bool        `json:"no_data,omitempty"`
}

// Options configure the analyzer.
type Options struct {
	Window    time.Duration // bucket width
	Quantiles []float64
}

// DefaultOptions returns the analyzer defaults: ten second windows and
// the median, 95th and 99th percentiles.
func DefaultOptions() Options {
	return Options{
		Window:    10 * time.Second,
		Quantiles: []float64{0.5, 0.95, 0.99},
	}
}

// group identifies one (function, outcome) slice of the history.
type group struct {
	f       history.F
	outcome history.OpType
}

// Analyze computes latency quantile series and completion rate series per
// (function, outcome) pair, plus the fault-activity regions described by
// the fault specs. Nemesis operations mark regions but are excluded from
// the performance series. An empty history yields a no-data report.
func Analyze(h *history.History, faults []FaultSpec, opts Options) *Report {
	if opts.Window <= 0 {
		opts.Window = DefaultOptions().Window
	}
	if len(opts.Quantiles) == 0 {
		opts.Quantiles = DefaultOptions().Quantiles
	}

	report := &Report{
		Window: opts.Window.Seconds(),
	}

	ops := h.Ops()
	if len(ops) == 0 {
		report.NoData = true
		return report
	}

	start := h.Start()
	report.Duration = h.Duration().Seconds()

	// Pair invocations with completions per actor, projecting each
	// completed workload op to a (invoke-time, latency) sample.
	points := make(map[group][]Point)
	pending := make(map[history.Actor]history.Op)
	for _, op := range ops {
		if op.Actor == history.Nemesis {
			continue
		}
		switch {
		case op.IsInvoke():
			pending[op.Actor] = op
		case op.IsCompletion():
			invoke, ok := pending[op.Actor]
			if !ok {
				continue
			}
			delete(pending, op.Actor)
			g := group{f: op.F, outcome: op.Type}
			points[g] = append(points[g], Point{
				T: invoke.Time.Sub(start).Seconds(),
				V: op.Time.Sub(invoke.Time).Seconds() * 1000,
			})
		}
	}

	dt := opts.Window.Seconds()
	for _, g := range sortedGroups(points) {
		buckets := Buckets(points[g], dt)
		for _, q := range opts.Quantiles {
			report.Latency = append(report.Latency, Series{
				Label:  fmt.Sprintf("%s %s p%g", g.f, g.outcome, q*100),
				Points: quantilePoints(buckets, q),
			})
		}
		report.Rate = append(report.Rate, Series{
			Label:  fmt.Sprintf("%s %s", g.f, g.outcome),
			Points: ratePoints(buckets, dt),
		})
	}

	for _, spec := range faults {
		intervals, violations := Intervals(ops, spec, start)
		report.Regions = append(report.Regions, Region{
			Category:  spec.Category,
			FillHint:  spec.FillHint,
			Intervals: intervals,
		})
		report.Violations = append(report.Violations, violations...)
	}

	return report
}

func sortedGroups(points map[group][]Point) []group {
	groups := make([]group, 0, len(points))
	for g := range points {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].f != groups[j].f {
			return groups[i].f < groups[j].f
		}
		return groups[i].outcome < groups[j].outcome
	})
	return groups
}
