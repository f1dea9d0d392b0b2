package store

import (
	"errors"
	"testing"
	"time"

	"chaos-harness/internal/config"
	"chaos-harness/internal/history"
	"chaos-harness/internal/perf"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	cfg := config.StoreConfig{InMemory: true}
	a, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func testOps() []history.Op {
	start := time.Unix(1700000000, 0).UTC()
	return []history.Op{
		{Index: 0, Actor: 0, F: "write", Value: int64(1), Type: history.Invoke, Time: start},
		{Index: 1, Actor: history.Nemesis, F: "kill", Type: history.Invoke, Time: start.Add(time.Second)},
		{Index: 2, Actor: 0, F: "write", Value: int64(1), Type: history.OK, Time: start.Add(2 * time.Second)},
		{Index: 3, Actor: history.Nemesis, F: "kill", Value: map[string]any{"n1": "killed"}, Type: history.OK, Time: start.Add(3 * time.Second)},
	}
}

func testReport() *perf.Report {
	stop := 30.0
	return &perf.Report{
		Duration: 60,
		Window:   10,
		Latency: []perf.Series{
			{Label: "write ok p50", Points: []perf.Point{{T: 5, V: 1.5}, {T: 15, V: 240}}},
		},
		Rate: []perf.Series{
			{Label: "write ok", Points: []perf.Point{{T: 5, V: 12}}},
		},
		Regions: []perf.Region{
			{Category: "kill", FillHint: "#E9A4A0", Intervals: []perf.Interval{{Start: 1, Stop: &stop}}},
		},
	}
}

func TestSaveAndReadBack(t *testing.T) {
	a := newTestArchive(t)
	ops := testOps()

	meta, err := a.SaveRun(RunMeta{
		Name:     "register-kill",
		Start:    time.Unix(1700000000, 0).UTC(),
		Duration: time.Minute,
	}, ops, testReport())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if meta.ID == "" {
		t.Fatal("SaveRun assigned no ID")
	}
	if meta.SavedAt.IsZero() {
		t.Error("SaveRun stamped no save time")
	}
	if meta.Ops != len(ops) {
		t.Errorf("meta.Ops = %d, want %d", meta.Ops, len(ops))
	}

	got, err := a.GetRun(meta.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "register-kill" || got.Duration != time.Minute || got.Ops != len(ops) {
		t.Errorf("GetRun = %+v", got)
	}

	hist, err := a.History(meta.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != len(ops) {
		t.Fatalf("History holds %d ops, want %d", len(hist), len(ops))
	}
	for i, op := range hist {
		if op.Index != ops[i].Index || op.F != ops[i].F || op.Type != ops[i].Type || op.Actor != ops[i].Actor {
			t.Errorf("op %d = %+v, want %+v", i, op, ops[i])
		}
	}

	report, err := a.Report(meta.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Duration != 60 || len(report.Latency) != 1 || report.Latency[0].Label != "write ok p50" {
		t.Errorf("Report = %+v", report)
	}
	if len(report.Regions) != 1 || report.Regions[0].Intervals[0].Stop == nil {
		t.Errorf("Regions = %+v", report.Regions)
	}
}

func TestSaveRunKeepsExplicitID(t *testing.T) {
	a := newTestArchive(t)
	meta, err := a.SaveRun(RunMeta{ID: "run-a", Name: "named"}, testOps(), nil)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if meta.ID != "run-a" {
		t.Errorf("SaveRun replaced explicit ID with %q", meta.ID)
	}
	if _, err := a.GetRun("run-a"); err != nil {
		t.Errorf("GetRun: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	a := newTestArchive(t)

	runs, err := a.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns on empty archive: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("empty archive lists %d runs", len(runs))
	}

	want := map[string]bool{}
	for _, name := range []string{"first", "second", "third"} {
		meta, err := a.SaveRun(RunMeta{Name: name}, testOps(), nil)
		if err != nil {
			t.Fatalf("SaveRun %s: %v", name, err)
		}
		want[meta.ID] = true
	}

	runs, err = a.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns returned %d runs, want 3", len(runs))
	}
	for i, r := range runs {
		if !want[r.ID] {
			t.Errorf("unexpected run %q in listing", r.ID)
		}
		if i > 0 && runs[i-1].SavedAt.Before(r.SavedAt) {
			t.Errorf("listing not newest-first at index %d", i)
		}
	}
}

func TestMissingRun(t *testing.T) {
	a := newTestArchive(t)

	if _, err := a.GetRun("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun error = %v, want ErrRunNotFound", err)
	}
	if _, err := a.History("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("History error = %v, want ErrRunNotFound", err)
	}
	if _, err := a.Report("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Report error = %v, want ErrRunNotFound", err)
	}
	if err := a.DeleteRun("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("DeleteRun error = %v, want ErrRunNotFound", err)
	}
}

func TestRunWithoutReport(t *testing.T) {
	a := newTestArchive(t)
	meta, err := a.SaveRun(RunMeta{Name: "aborted"}, testOps(), nil)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if _, err := a.GetRun(meta.ID); err != nil {
		t.Errorf("GetRun: %v", err)
	}
	if _, err := a.Report(meta.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Report error = %v, want ErrRunNotFound", err)
	}
}

func TestDeleteRun(t *testing.T) {
	a := newTestArchive(t)
	meta, err := a.SaveRun(RunMeta{Name: "doomed"}, testOps(), testReport())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	if err := a.DeleteRun(meta.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := a.GetRun(meta.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun after delete = %v, want ErrRunNotFound", err)
	}
	if _, err := a.History(meta.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("History after delete = %v, want ErrRunNotFound", err)
	}
	runs, err := a.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("deleted run still listed: %+v", runs)
	}
}

func TestFileBackedArchive(t *testing.T) {
	cfg := config.StoreConfig{DataPath: t.TempDir()}

	a, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	meta, err := a.SaveRun(RunMeta{Name: "durable"}, testOps(), testReport())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a, err = Open(&cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()

	got, err := a.GetRun(meta.ID)
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if got.Name != "durable" {
		t.Errorf("GetRun.Name = %q after reopen", got.Name)
	}
	if _, err := a.Report(meta.ID); err != nil {
		t.Errorf("Report after reopen: %v", err)
	}
}
