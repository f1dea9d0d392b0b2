package gen

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chaos-harness/internal/history"
)

// Mix interleaves its children, picking uniformly among those not yet
// exhausted on every pull. It is exhausted only when every child is, so no
// live child is starved. A Mix with no children is exhausted immediately.
//
// Mix does not route completions to its children; a child that needs
// completion feedback should sit behind Reserve or Independent instead.
func Mix(gens ...Generator) Generator {
	m := &mixGen{children: gens}
	for i := range gens {
		m.live = append(m.live, i)
	}
	return m
}

type mixGen struct {
	mu       sync.Mutex
	children []Generator
	live     []int
}

func (g *mixGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	for {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		g.mu.Lock()
		if len(g.live) == 0 {
			g.mu.Unlock()
			return history.Op{}, ErrExhausted
		}
		idx := g.live[rand.Intn(len(g.live))]
		child := g.children[idx]
		g.mu.Unlock()

		op, err := child.Next(ctx, c, actor)
		if err == nil {
			return op, nil
		}
		if fatal(err) {
			return history.Op{}, err
		}
		g.retire(idx)
	}
}

func (g *mixGen) retire(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range g.live {
		if v == idx {
			g.live = append(g.live[:i], g.live[i+1:]...)
			return
		}
	}
}

// Stagger spaces operations with randomized delays averaging dt. Each pull
// reserves the next emission slot under the generator's lock, then sleeps
// outside it, so concurrent actors spread out instead of bursting. Delays
// are drawn uniformly from [0, 2dt). A non-positive dt disables the delay.
func Stagger(dt time.Duration, g Generator) Generator {
	return &staggerGen{dt: dt, child: g}
}

type staggerGen struct {
	mu    sync.Mutex
	dt    time.Duration
	next  time.Time
	child Generator
}

func (g *staggerGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	if g.dt > 0 {
		g.mu.Lock()
		now := c.Clock.Now()
		if g.next.Before(now) {
			g.next = now
		}
		slot := g.next
		g.next = slot.Add(time.Duration(rand.Int63n(int64(2 * g.dt))))
		g.mu.Unlock()

		if wait := slot.Sub(c.Clock.Now()); wait > 0 {
			if err := c.Clock.Sleep(ctx, wait); err != nil {
				return history.Op{}, err
			}
		}
	}
	return g.child.Next(ctx, c, actor)
}

func (g *staggerGen) Update(c *Context, op history.Op) {
	update(g.child, c, op)
}

// FixedDelay spaces operations exactly dt apart, for schedules that need a
// deterministic cadence. Pacing rides a one-token bucket refilled every dt,
// timed against the schedule clock so virtual-time runs pace correctly.
// A non-positive dt disables the delay.
func FixedDelay(dt time.Duration, g Generator) Generator {
	fd := &fixedDelayGen{child: g}
	if dt > 0 {
		fd.limiter = rate.NewLimiter(rate.Every(dt), 1)
	}
	return fd
}

type fixedDelayGen struct {
	limiter *rate.Limiter
	child   Generator
}

func (g *fixedDelayGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	if g.limiter != nil {
		now := c.Clock.Now()
		res := g.limiter.ReserveN(now, 1)
		if wait := res.DelayFrom(now); wait > 0 {
			if err := c.Clock.Sleep(ctx, wait); err != nil {
				return history.Op{}, err
			}
		}
	}
	return g.child.Next(ctx, c, actor)
}

func (g *fixedDelayGen) Update(c *Context, op history.Op) {
	update(g.child, c, op)
}

// Reserve dedicates the first n workload actors to ga and every other
// workload actor to gb. The split is static for the whole run. Actors
// outside both groups, including the nemesis, see an exhausted generator.
func Reserve(n int, ga, gb Generator) Generator {
	return &reserveGen{n: n, a: ga, b: gb}
}

type reserveGen struct {
	n    int
	a, b Generator
}

func (g *reserveGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	child := g.pick(actor)
	if child == nil {
		return history.Op{}, ErrExhausted
	}
	return child.Next(ctx, c, actor)
}

func (g *reserveGen) Update(c *Context, op history.Op) {
	if child := g.pick(op.Actor); child != nil {
		update(child, c, op)
	}
}

func (g *reserveGen) pick(actor history.Actor) Generator {
	if actor < 0 {
		return nil
	}
	if int(actor) < g.n {
		return g.a
	}
	return g.b
}

// Phases runs its children strictly in order: all actors draw from the
// first child until it exhausts, then the next, and so on. Completions are
// routed to the active child.
func Phases(gens ...Generator) Generator {
	return &phasesGen{children: gens}
}

type phasesGen struct {
	mu       sync.Mutex
	children []Generator
	cur      int
}

func (g *phasesGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	for {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		g.mu.Lock()
		if g.cur >= len(g.children) {
			g.mu.Unlock()
			return history.Op{}, ErrExhausted
		}
		idx := g.cur
		child := g.children[idx]
		g.mu.Unlock()

		op, err := child.Next(ctx, c, actor)
		if err == nil {
			return op, nil
		}
		if fatal(err) {
			return history.Op{}, err
		}
		g.mu.Lock()
		if g.cur == idx {
			g.cur++
		}
		g.mu.Unlock()
	}
}

func (g *phasesGen) Update(c *Context, op history.Op) {
	g.mu.Lock()
	var child Generator
	if g.cur < len(g.children) {
		child = g.children[g.cur]
	}
	g.mu.Unlock()
	if child != nil {
		update(child, c, op)
	}
}

// TimeLimit cuts g off once d has elapsed from the first pull. It is safe
// on infinite generators and composes through Mix and Phases. An operation
// surfacing after the deadline is discarded rather than emitted.
func TimeLimit(d time.Duration, g Generator) Generator {
	return &timeLimitGen{d: d, child: g}
}

type timeLimitGen struct {
	mu       sync.Mutex
	d        time.Duration
	deadline time.Time
	child    Generator
}

func (g *timeLimitGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	g.mu.Lock()
	if g.deadline.IsZero() {
		g.deadline = c.Clock.Now().Add(g.d)
	}
	deadline := g.deadline
	g.mu.Unlock()

	if !c.Clock.Now().Before(deadline) {
		return history.Op{}, ErrExhausted
	}
	op, err := g.child.Next(ctx, c, actor)
	if err != nil {
		return history.Op{}, err
	}
	if !c.Clock.Now().Before(deadline) {
		return history.Op{}, ErrExhausted
	}
	return op, nil
}

func (g *timeLimitGen) Update(c *Context, op history.Op) {
	update(g.child, c, op)
}

// Limit caps g at n operations.
func Limit(n int, g Generator) Generator {
	return &limitGen{remaining: n, child: g}
}

type limitGen struct {
	mu        sync.Mutex
	remaining int
	child     Generator
}

func (g *limitGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	g.mu.Lock()
	if g.remaining <= 0 {
		g.mu.Unlock()
		return history.Op{}, ErrExhausted
	}
	g.mu.Unlock()

	op, err := g.child.Next(ctx, c, actor)
	if err != nil {
		return history.Op{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining <= 0 {
		return history.Op{}, ErrExhausted
	}
	g.remaining--
	return op, nil
}

func (g *limitGen) Update(c *Context, op history.Op) {
	update(g.child, c, op)
}

// maxFilterAttempts bounds how many child ops Filter inspects per pull, so
// a predicate that matches nothing surfaces as an error instead of a spin.
const maxFilterAttempts = 256

// ErrFilterStarved is returned when Filter's predicate rejects every
// operation its child offers.
var ErrFilterStarved = errors.New("filter predicate rejected all operations")

// Filter emits only the child's operations for which pred returns true.
func Filter(pred func(history.Op) bool, g Generator) Generator {
	return &filterGen{pred: pred, child: g}
}

type filterGen struct {
	pred  func(history.Op) bool
	child Generator
}

func (g *filterGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	for i := 0; i < maxFilterAttempts; i++ {
		op, err := g.child.Next(ctx, c, actor)
		if err != nil {
			return history.Op{}, err
		}
		if g.pred(op) {
			return op, nil
		}
	}
	return history.Op{}, ErrFilterStarved
}

func (g *filterGen) Update(c *Context, op history.Op) {
	update(g.child, c, op)
}

// FlipFlop alternates pulls across its children in a fixed rotation:
// one op from the first, one from the second, and so on, wrapping around
// forever. It exhausts as soon as any child does. Fault schedules use it to
// alternate a fault's start and stop emitters.
func FlipFlop(gens ...Generator) Generator {
	return &flipFlopGen{children: gens}
}

type flipFlopGen struct {
	mu       sync.Mutex
	children []Generator
	turn     int
	done     bool
}

func (g *flipFlopGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	g.mu.Lock()
	if g.done || len(g.children) == 0 {
		g.mu.Unlock()
		return history.Op{}, ErrExhausted
	}
	child := g.children[g.turn%len(g.children)]
	g.turn++
	g.mu.Unlock()

	op, err := child.Next(ctx, c, actor)
	if err != nil {
		if !fatal(err) {
			g.mu.Lock()
			g.done = true
			g.mu.Unlock()
		}
		return history.Op{}, err
	}
	return op, nil
}
