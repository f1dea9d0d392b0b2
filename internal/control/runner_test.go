package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chaos-harness/internal/config"
	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/nemesis"
	"chaos-harness/internal/target"
	"chaos-harness/internal/workload"
)

var testNodes = []string{"n1", "n2", "n3", "n4", "n5"}

func newRunnerTest(t *testing.T, nopts nemesis.Options) (*Test, *target.SimCluster) {
	t.Helper()
	clock := gen.NewFakeClock(time.Unix(1700000000, 0))
	cluster := target.NewSimCluster(testNodes, clock, 42)

	wcfg := config.WorkloadConfig{
		Name: "register", Keys: 4, PerKey: 1, OpsPerKey: 5,
		Interval: 50 * time.Millisecond,
	}
	w, err := workload.Build(&wcfg, cluster)
	if err != nil {
		t.Fatalf("workload.Build: %v", err)
	}
	sched, err := nemesis.Build(cluster, nopts)
	if err != nil {
		t.Fatalf("nemesis.Build: %v", err)
	}
	return &Test{
		Name:     "runner-test",
		Actors:   3,
		Nodes:    testNodes,
		Limit:    30 * time.Second,
		Clock:    clock,
		Workload: w,
		Schedule: sched,
	}, cluster
}

func completions(h *history.History, a history.Actor, f history.F) []history.Op {
	var out []history.Op
	for _, op := range h.Ops() {
		if op.Actor == a && op.F == f && op.IsCompletion() {
			out = append(out, op)
		}
	}
	return out
}

func TestNewValidation(t *testing.T) {
	valid, _ := newRunnerTest(t, nemesis.Options{Kill: true, Interval: 5 * time.Second})

	tests := []struct {
		name   string
		mutate func(tt Test) *Test
	}{
		{"no name", func(tt Test) *Test { tt.Name = ""; return &tt }},
		{"no actors", func(tt Test) *Test { tt.Actors = 0; return &tt }},
		{"no nodes", func(tt Test) *Test { tt.Nodes = nil; return &tt }},
		{"no workload", func(tt Test) *Test { tt.Workload = nil; return &tt }},
		{"no schedule", func(tt Test) *Test { tt.Schedule = nil; return &tt }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.mutate(*valid)); err == nil {
				t.Error("New accepted a broken test")
			}
		})
	}

	if _, err := New(nil); err == nil {
		t.Error("New accepted a nil test")
	}

	r, err := New(valid)
	if err != nil {
		t.Fatalf("New rejected a valid test: %v", err)
	}
	if r.test.Clock == nil || r.test.Logger == nil {
		t.Error("New left clock or logger unset")
	}
}

func TestRunnerCompletesCleanly(t *testing.T) {
	test, cluster := newRunnerTest(t, nemesis.Options{Kill: true, Interval: 5 * time.Second})
	r, err := New(test)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	h := res.History
	if h.Len() == 0 {
		t.Fatal("run recorded no operations")
	}
	if res.Ops != h.Len() {
		t.Errorf("result reports %d ops, history holds %d", res.Ops, h.Len())
	}
	if h.PendingCount() != 0 {
		t.Errorf("%d operations left open after a clean run", h.PendingCount())
	}

	var invokes, completed int
	for _, op := range h.Ops() {
		if op.IsInvoke() {
			invokes++
		} else {
			completed++
		}
	}
	if invokes != completed {
		t.Errorf("history holds %d invocations and %d completions", invokes, completed)
	}

	// Cleanup contributes a restart whether or not a kill ever fired.
	if got := completions(h, history.Nemesis, nemesis.FRestart); len(got) == 0 {
		t.Error("no restart completion recorded")
	}
	for _, n := range testNodes {
		if !cluster.Running(n) {
			t.Errorf("node %s down after the run", n)
		}
	}
}

func TestRunnerCleansUpOnAbort(t *testing.T) {
	test, cluster := newRunnerTest(t, nemesis.Options{Kill: true, Interval: 5 * time.Second})
	r, err := New(test)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("aborted run returned no result")
	}

	// The stop sequence still ran on the detached context.
	if got := completions(res.History, history.Nemesis, nemesis.FRestart); len(got) == 0 {
		t.Error("abort skipped the cleanup sequence")
	}
	if res.History.PendingCount() != 0 {
		t.Errorf("%d operations left open after abort", res.History.PendingCount())
	}
	for _, n := range testNodes {
		if !cluster.Running(n) {
			t.Errorf("node %s down after aborted run", n)
		}
	}
}

func TestRunnerCleansUpOnGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	test, _ := newRunnerTest(t, nemesis.Options{Kill: true, Interval: 5 * time.Second})
	test.Workload = &workload.Workload{
		Name: "broken",
		Generator: gen.Func(func(context.Context, *gen.Context, history.Actor) (history.Op, error) {
			return history.Op{}, boom
		}),
		Client: stubClient{},
	}
	r, err := New(test)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want the generator error", err)
	}
	if got := completions(res.History, history.Nemesis, nemesis.FRestart); len(got) == 0 {
		t.Error("generator failure skipped the cleanup sequence")
	}
}

func TestRunnerClosesPendingOnAbort(t *testing.T) {
	test, _ := newRunnerTest(t, nemesis.Options{Kill: true, Interval: 5 * time.Second})
	test.Workload = &workload.Workload{
		Name:      "flaky",
		Generator: gen.Repeat(history.Op{F: "noop"}),
		Client:    &breakingClient{breakAt: 3},
	}
	r, err := New(test)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded with a breaking client")
	}
	h := res.History
	if h.PendingCount() != 0 {
		t.Errorf("%d operations left open after abort", h.PendingCount())
	}

	aborted := 0
	for _, op := range h.Ops() {
		if op.Type == history.Info && op.Error == errAborted.Error() {
			aborted++
		}
	}
	if aborted == 0 {
		t.Error("no open invocation was closed as indeterminate")
	}
}

func TestRunnerWithoutFaults(t *testing.T) {
	test, _ := newRunnerTest(t, nemesis.Options{})
	r, err := New(test)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if nemOps := res.History.ByActor(history.Nemesis); len(nemOps) != 0 {
		t.Errorf("fault-free run recorded %d nemesis ops", len(nemOps))
	}
	if want := 4 * 5 * 2; res.Ops != want {
		t.Errorf("run recorded %d ops, want %d invoke and completion pairs", res.Ops, want)
	}
}

type stubClient struct{}

func (stubClient) Setup(context.Context) error    { return nil }
func (stubClient) Teardown(context.Context) error { return nil }

func (stubClient) Invoke(_ context.Context, _ *gen.Context, op history.Op) (history.Op, error) {
	return op.Completed(history.OK), nil
}

type breakingClient struct {
	mu      sync.Mutex
	n       int
	breakAt int
}

func (c *breakingClient) Setup(context.Context) error    { return nil }
func (c *breakingClient) Teardown(context.Context) error { return nil }

func (c *breakingClient) Invoke(_ context.Context, _ *gen.Context, op history.Op) (history.Op, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n >= c.breakAt {
		return history.Op{}, errors.New("client broke")
	}
	return op.Completed(history.OK), nil
}
