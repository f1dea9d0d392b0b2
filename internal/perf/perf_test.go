package perf

import (
	"testing"
	"time"

	"chaos-harness/internal/history"
)

func TestBuckets(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		dt     float64
		mids   []float64
		counts []int
	}{
		{
			name:   "empty input",
			points: nil,
			dt:     10,
		},
		{
			name:   "single window",
			points: []Point{{T: 1, V: 5}, {T: 9, V: 3}},
			dt:     10,
			mids:   []float64{5},
			counts: []int{2},
		},
		{
			name:   "points split across sorted windows",
			points: []Point{{T: 25, V: 1}, {T: 3, V: 2}, {T: 12, V: 3}},
			dt:     10,
			mids:   []float64{5, 15, 25},
			counts: []int{1, 1, 1},
		},
		{
			name:   "boundary lands in the next window",
			points: []Point{{T: 10, V: 1}},
			dt:     10,
			mids:   []float64{15},
			counts: []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := Buckets(tt.points, tt.dt)
			if len(buckets) != len(tt.mids) {
				t.Fatalf("Expected %d buckets, got %d", len(tt.mids), len(buckets))
			}
			for i, b := range buckets {
				if b.Mid != tt.mids[i] {
					t.Errorf("Bucket %d: expected mid %v, got %v", i, tt.mids[i], b.Mid)
				}
				if len(b.Values) != tt.counts[i] {
					t.Errorf("Bucket %d: expected %d values, got %d", i, tt.counts[i], len(b.Values))
				}
			}
		})
	}
}

func TestBucketValuesSorted(t *testing.T) {
	points := []Point{{T: 1, V: 9}, {T: 2, V: 1}, {T: 3, V: 5}}
	buckets := Buckets(points, 10)

	if len(buckets) != 1 {
		t.Fatalf("Expected one bucket, got %d", len(buckets))
	}
	values := buckets[0].Values
	for i := 1; i < len(values); i++ {
		if values[i-1] > values[i] {
			t.Fatalf("Expected sorted values, got %v", values)
		}
	}
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{name: "empty returns zero", values: nil, q: 0.5, want: 0},
		{name: "single value", values: []float64{7}, q: 0.5, want: 7},
		{name: "q zero is minimum", values: []float64{4, 1, 3, 2}, q: 0, want: 1},
		{name: "q one is maximum", values: []float64{4, 1, 3, 2}, q: 1, want: 4},
		{name: "median of four", values: []float64{1, 2, 3, 4}, q: 0.5, want: 3},
		{name: "p99 clamps to last", values: []float64{1, 2, 3, 4}, q: 0.99, want: 4},
		{name: "unsorted input", values: []float64{30, 10, 20}, q: 0.5, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantile(tt.values, tt.q)
			if got != tt.want {
				t.Errorf("Quantile(%v, %v) = %v, want %v", tt.values, tt.q, got, tt.want)
			}
		})
	}
}

func nemesisOp(f history.F, typ history.OpType, at time.Time) history.Op {
	return history.Op{Actor: history.Nemesis, F: f, Type: typ, Time: at}
}

func TestIntervals(t *testing.T) {
	start := time.Unix(1000, 0)
	spec := FaultSpec{
		Category: "kill",
		Start:    []history.F{"kill"},
		Stop:     []history.F{"restart"},
	}

	t.Run("start stop pair", func(t *testing.T) {
		ops := []history.Op{
			nemesisOp("kill", history.Invoke, start.Add(5*time.Second)),
			nemesisOp("kill", history.OK, start.Add(5*time.Second)),
			nemesisOp("restart", history.Invoke, start.Add(20*time.Second)),
			nemesisOp("restart", history.OK, start.Add(20*time.Second)),
		}
		intervals, violations := Intervals(ops, spec, start)
		if len(violations) != 0 {
			t.Fatalf("Expected no violations, got %v", violations)
		}
		if len(intervals) != 1 {
			t.Fatalf("Expected one interval, got %d", len(intervals))
		}
		if intervals[0].Start != 5 {
			t.Errorf("Expected start 5, got %v", intervals[0].Start)
		}
		if intervals[0].Stop == nil || *intervals[0].Stop != 20 {
			t.Errorf("Expected stop 20, got %v", intervals[0].Stop)
		}
	})

	t.Run("unmatched start stays open", func(t *testing.T) {
		ops := []history.Op{
			nemesisOp("kill", history.Invoke, start.Add(5*time.Second)),
			nemesisOp("kill", history.OK, start.Add(5*time.Second)),
		}
		intervals, _ := Intervals(ops, spec, start)
		if len(intervals) != 1 {
			t.Fatalf("Expected one interval, got %d", len(intervals))
		}
		if intervals[0].Stop != nil {
			t.Errorf("Expected open interval, got stop %v", *intervals[0].Stop)
		}
	})

	t.Run("stop without start is ignored", func(t *testing.T) {
		ops := []history.Op{
			nemesisOp("restart", history.Invoke, start.Add(5*time.Second)),
			nemesisOp("restart", history.OK, start.Add(5*time.Second)),
		}
		intervals, violations := Intervals(ops, spec, start)
		if len(intervals) != 0 {
			t.Errorf("Expected no intervals, got %v", intervals)
		}
		if len(violations) != 0 {
			t.Errorf("Expected no violations, got %v", violations)
		}
	})

	t.Run("double start closes window and records violation", func(t *testing.T) {
		ops := []history.Op{
			nemesisOp("kill", history.Invoke, start.Add(5*time.Second)),
			nemesisOp("kill", history.OK, start.Add(5*time.Second)),
			nemesisOp("kill", history.Invoke, start.Add(15*time.Second)),
			nemesisOp("kill", history.OK, start.Add(15*time.Second)),
			nemesisOp("restart", history.Invoke, start.Add(30*time.Second)),
			nemesisOp("restart", history.OK, start.Add(30*time.Second)),
		}
		intervals, violations := Intervals(ops, spec, start)
		if len(violations) != 1 {
			t.Fatalf("Expected one violation, got %d", len(violations))
		}
		if violations[0].Category != "kill" || violations[0].T != 15 {
			t.Errorf("Unexpected violation: %+v", violations[0])
		}
		if len(intervals) != 2 {
			t.Fatalf("Expected two intervals, got %d", len(intervals))
		}
		if intervals[0].Stop == nil || *intervals[0].Stop != 15 {
			t.Errorf("Expected first interval closed at 15, got %v", intervals[0].Stop)
		}
		if intervals[1].Start != 15 {
			t.Errorf("Expected second interval to start at 15, got %v", intervals[1].Start)
		}
	})

	t.Run("completions do not open windows", func(t *testing.T) {
		ops := []history.Op{
			nemesisOp("kill", history.OK, start.Add(5*time.Second)),
		}
		intervals, _ := Intervals(ops, spec, start)
		if len(intervals) != 0 {
			t.Errorf("Expected no intervals from a bare completion, got %v", intervals)
		}
	})
}

func appendOps(t *testing.T, h *history.History, ops ...history.Op) {
	t.Helper()
	for _, op := range ops {
		if _, err := h.Append(op); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestAnalyzeEmptyHistory(t *testing.T) {
	report := Analyze(history.New(), nil, DefaultOptions())
	if !report.NoData {
		t.Error("Expected no-data report for empty history")
	}
	if len(report.Latency) != 0 || len(report.Rate) != 0 {
		t.Error("Expected no series for empty history")
	}
}

func TestAnalyze(t *testing.T) {
	h := history.New()
	start := time.Unix(2000, 0)

	// Two read completions at 100ms and 300ms latency, one failed write.
	appendOps(t, h,
		history.Op{Actor: 0, F: "read", Type: history.Invoke, Time: start},
		history.Op{Actor: 0, F: "read", Type: history.OK, Time: start.Add(100 * time.Millisecond)},
		history.Op{Actor: 1, F: "write", Type: history.Invoke, Time: start.Add(time.Second)},
		history.Op{Actor: 1, F: "write", Type: history.Fail, Time: start.Add(1200 * time.Millisecond)},
		history.Op{Actor: 0, F: "read", Type: history.Invoke, Time: start.Add(2 * time.Second)},
		history.Op{Actor: 0, F: "read", Type: history.OK, Time: start.Add(2300 * time.Millisecond)},
		nemesisOp("kill", history.Invoke, start.Add(3*time.Second)),
		nemesisOp("kill", history.OK, start.Add(3*time.Second)),
		nemesisOp("restart", history.Invoke, start.Add(8*time.Second)),
		nemesisOp("restart", history.OK, start.Add(8*time.Second)),
	)

	faults := []FaultSpec{{
		Category: "kill",
		Start:    []history.F{"kill"},
		Stop:     []history.F{"restart"},
		FillHint: "#E9A4A0",
	}}

	report := Analyze(h, faults, Options{
		Window:    10 * time.Second,
		Quantiles: []float64{0.5, 0.99},
	})

	if report.NoData {
		t.Fatal("Expected data in report")
	}

	// read ok gets one series per quantile, write fail likewise.
	wantLatency := map[string]bool{
		"read ok p50":    true,
		"read ok p99":    true,
		"write fail p50": true,
		"write fail p99": true,
	}
	if len(report.Latency) != len(wantLatency) {
		t.Fatalf("Expected %d latency series, got %d", len(wantLatency), len(report.Latency))
	}
	for _, s := range report.Latency {
		if !wantLatency[s.Label] {
			t.Errorf("Unexpected latency series %q", s.Label)
		}
		if len(s.Points) != 1 {
			t.Errorf("Series %q: expected 1 point, got %d", s.Label, len(s.Points))
		}
		if len(s.Points) > 0 && s.Points[0].T != 5 {
			t.Errorf("Series %q: expected bucket midpoint 5, got %v", s.Label, s.Points[0].T)
		}
	}

	for _, s := range report.Latency {
		if s.Label == "read ok p99" {
			if s.Points[0].V != 300 {
				t.Errorf("Expected read p99 latency 300ms, got %v", s.Points[0].V)
			}
		}
	}

	wantRate := map[string]float64{
		"read ok":    0.2,
		"write fail": 0.1,
	}
	if len(report.Rate) != len(wantRate) {
		t.Fatalf("Expected %d rate series, got %d", len(wantRate), len(report.Rate))
	}
	for _, s := range report.Rate {
		want, ok := wantRate[s.Label]
		if !ok {
			t.Errorf("Unexpected rate series %q", s.Label)
			continue
		}
		if len(s.Points) != 1 || s.Points[0].V != want {
			t.Errorf("Series %q: expected rate %v Hz, got %+v", s.Label, want, s.Points)
		}
	}

	if len(report.Regions) != 1 {
		t.Fatalf("Expected one region, got %d", len(report.Regions))
	}
	region := report.Regions[0]
	if region.Category != "kill" || region.FillHint != "#E9A4A0" {
		t.Errorf("Unexpected region: %+v", region)
	}
	if len(region.Intervals) != 1 {
		t.Fatalf("Expected one interval, got %d", len(region.Intervals))
	}
	if region.Intervals[0].Start != 3 {
		t.Errorf("Expected interval start 3, got %v", region.Intervals[0].Start)
	}
	if region.Intervals[0].Stop == nil || *region.Intervals[0].Stop != 8 {
		t.Errorf("Expected interval stop 8, got %v", region.Intervals[0].Stop)
	}

	if len(report.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", report.Violations)
	}
}

func TestAnalyzeExcludesNemesisFromSeries(t *testing.T) {
	h := history.New()
	start := time.Unix(2000, 0)

	appendOps(t, h,
		nemesisOp("kill", history.Invoke, start),
		nemesisOp("kill", history.OK, start.Add(time.Second)),
	)

	report := Analyze(h, nil, DefaultOptions())
	if len(report.Latency) != 0 || len(report.Rate) != 0 {
		t.Error("Expected nemesis ops to be excluded from performance series")
	}
	if report.NoData {
		t.Error("History has ops, report should not claim no data")
	}
}
