package gen

import (
	"context"
	"errors"
	"testing"
	"time"

	"chaos-harness/internal/history"
)

func TestMixDrainsEveryChild(t *testing.T) {
	c, _ := testContext(t)
	g := Mix(
		FromOps(history.Op{F: "a"}, history.Op{F: "a"}),
		FromOps(history.Op{F: "b"}),
		FromOps(history.Op{F: "c"}, history.Op{F: "c"}, history.Op{F: "c"}),
	)

	counts := map[history.F]int{}
	for _, op := range drain(t, g, c, 0, 20) {
		counts[op.F]++
	}

	want := map[history.F]int{"a": 2, "b": 1, "c": 3}
	for f, n := range want {
		if counts[f] != n {
			t.Errorf("emitted %d %q ops, want %d", counts[f], f, n)
		}
	}
}

func TestMixEmptyIsExhausted(t *testing.T) {
	c, _ := testContext(t)
	if _, err := Mix().Next(context.Background(), c, 0); !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
}

func TestMixPropagatesFatalErrors(t *testing.T) {
	c, _ := testContext(t)
	boom := errors.New("boom")
	g := Mix(Func(func(context.Context, *Context, history.Actor) (history.Op, error) {
		return history.Op{}, boom
	}))
	if _, err := g.Next(context.Background(), c, 0); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestStaggerSpacesOps(t *testing.T) {
	c, clock := testContext(t)
	g := Stagger(2*time.Second, Repeat(history.Op{F: "w"}))

	start := clock.Now()
	const pulls = 200
	for i := 0; i < pulls; i++ {
		if _, err := g.Next(context.Background(), c, 0); err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
	}
	elapsed := clock.Now().Sub(start)

	// Delays are uniform on [0, 2dt), so the mean gap is dt. With 200 pulls
	// the total should sit well inside [0.5, 1.5] times pulls*dt.
	lo := time.Duration(pulls) * time.Second
	hi := time.Duration(pulls) * 3 * time.Second
	if elapsed < lo/2 || elapsed > hi {
		t.Errorf("elapsed = %v, want within [%v, %v]", elapsed, lo/2, hi)
	}
}

func TestFixedDelaySpacingIsExact(t *testing.T) {
	c, clock := testContext(t)
	g := FixedDelay(3*time.Second, Repeat(history.Op{F: "w"}))

	start := clock.Now()
	for i := 0; i < 5; i++ {
		if _, err := g.Next(context.Background(), c, 0); err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
	}
	// First op fires immediately, the rest every 3s.
	if got := clock.Now().Sub(start); got != 12*time.Second {
		t.Errorf("elapsed = %v, want 12s", got)
	}
}

func TestReservePartitionsActors(t *testing.T) {
	c, _ := testContext(t)
	g := Reserve(2,
		Repeat(history.Op{F: "cas"}),
		Repeat(history.Op{F: "read"}),
	)

	for actor := 0; actor < 5; actor++ {
		op, err := g.Next(context.Background(), c, history.Actor(actor))
		if err != nil {
			t.Fatalf("actor %d: %v", actor, err)
		}
		want := history.F("read")
		if actor < 2 {
			want = "cas"
		}
		if op.F != want {
			t.Errorf("actor %d got %q, want %q", actor, op.F, want)
		}
	}

	// The nemesis belongs to neither group.
	if _, err := g.Next(context.Background(), c, history.Nemesis); !errors.Is(err, ErrExhausted) {
		t.Errorf("nemesis err = %v, want ErrExhausted", err)
	}
}

func TestPhasesRunSequentially(t *testing.T) {
	c, _ := testContext(t)
	g := Phases(
		FromOps(history.Op{F: "a"}, history.Op{F: "a"}),
		FromOps(history.Op{F: "b"}),
	)

	ops := drain(t, g, c, 0, 10)
	want := []history.F{"a", "a", "b"}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d", len(ops), len(want))
	}
	for i, f := range want {
		if ops[i].F != f {
			t.Errorf("ops[%d].F = %q, want %q", i, ops[i].F, f)
		}
	}
}

func TestTimeLimitCutsInfiniteGenerator(t *testing.T) {
	c, clock := testContext(t)
	g := TimeLimit(10*time.Second, Stagger(time.Second, Repeat(history.Op{F: "w"})))

	start := clock.Now()
	n := 0
	for {
		_, err := g.Next(context.Background(), c, 0)
		if errors.Is(err, ErrExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("pull %d: %v", n, err)
		}
		n++
		if n > 1000 {
			t.Fatal("time limit never fired")
		}
	}
	if n == 0 {
		t.Error("no ops before the limit")
	}
	// All emissions happened inside the window.
	if got := clock.Now().Sub(start); got > 13*time.Second {
		t.Errorf("generator ran for %v of virtual time, want about 10s", got)
	}

	// Exhaustion is stable afterwards.
	if _, err := g.Next(context.Background(), c, 1); !errors.Is(err, ErrExhausted) {
		t.Errorf("post-limit err = %v, want ErrExhausted", err)
	}
}

func TestTimeLimitComposesThroughPhases(t *testing.T) {
	c, _ := testContext(t)
	g := Phases(
		TimeLimit(5*time.Second, Stagger(time.Second, Repeat(history.Op{F: "a"}))),
		FromOps(history.Op{F: "b"}),
	)

	ops := drain(t, g, c, 0, 100)
	if len(ops) < 2 {
		t.Fatalf("got %d ops, want at least 2", len(ops))
	}
	if last := ops[len(ops)-1]; last.F != "b" {
		t.Errorf("last op F = %q, want %q", last.F, "b")
	}
}

func TestLimitCapsOps(t *testing.T) {
	c, _ := testContext(t)
	g := Limit(4, Repeat(history.Op{F: "w"}))
	if got := len(drain(t, g, c, 0, 10)); got != 4 {
		t.Errorf("emitted %d ops, want 4", got)
	}
}

func TestFilterSelectsMatching(t *testing.T) {
	c, _ := testContext(t)
	n := 0
	src := Each(func() (history.Op, bool) {
		n++
		return history.Op{F: "w", Value: n}, true
	})
	even := Filter(func(op history.Op) bool {
		return op.Value.(int)%2 == 0
	}, src)

	for i := 0; i < 5; i++ {
		op, err := even.Next(context.Background(), c, 0)
		if err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
		if op.Value.(int)%2 != 0 {
			t.Errorf("pull %d: got odd value %v", i, op.Value)
		}
	}
}

func TestFilterStarvationSurfacesAsError(t *testing.T) {
	c, _ := testContext(t)
	never := Filter(func(history.Op) bool { return false }, Repeat(history.Op{F: "w"}))
	if _, err := never.Next(context.Background(), c, 0); !errors.Is(err, ErrFilterStarved) {
		t.Errorf("err = %v, want ErrFilterStarved", err)
	}
}

func TestFlipFlopAlternates(t *testing.T) {
	c, _ := testContext(t)
	g := FlipFlop(Repeat(history.Op{F: "start"}), Repeat(history.Op{F: "stop"}))

	want := []history.F{"start", "stop", "start", "stop", "start", "stop"}
	for i, f := range want {
		op, err := g.Next(context.Background(), c, history.Nemesis)
		if err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
		if op.F != f {
			t.Errorf("pull %d: F = %q, want %q", i, op.F, f)
		}
	}
}

func TestFlipFlopExhaustsWithChild(t *testing.T) {
	c, _ := testContext(t)
	g := FlipFlop(FromOps(history.Op{F: "start"}), Repeat(history.Op{F: "stop"}))

	ops := drain(t, g, c, history.Nemesis, 10)
	want := []history.F{"start", "stop"}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d", len(ops), len(want))
	}
	for i, f := range want {
		if ops[i].F != f {
			t.Errorf("ops[%d].F = %q, want %q", i, ops[i].F, f)
		}
	}
}
