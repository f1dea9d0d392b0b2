// Package gen builds operation schedules from small composable generators.
// A generator is pulled concurrently by every actor in a run; combinators
// layer pacing, partitioning, sequencing and time bounds on top of leaf
// emitters without the leaves knowing about any of it.
package gen

import (
	"context"
	"errors"
	"sync"
	"time"

	"chaos-harness/internal/history"
)

// ErrExhausted signals that a generator has no further operations. It is the
// only non-fatal generator error; anything else aborts the run.
var ErrExhausted = errors.New("generator exhausted")

// Generator produces operation templates on demand. Next blocks until an
// operation is ready, the generator is exhausted, or ctx is canceled. The
// returned op carries F and Value; the scheduler fills in actor, type,
// timestamp and index. Implementations must be safe for concurrent use.
type Generator interface {
	Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error)
}

// Updater is implemented by generators that react to completions. The
// scheduler feeds every completion back through the root generator;
// combinators route the op toward the child that produced it where they can.
type Updater interface {
	Update(c *Context, op history.Op)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, c *Context, actor history.Actor) (history.Op, error)

func (f Func) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	return f(ctx, c, actor)
}

// Context carries the shared, read-mostly state of a run: its clock, start
// time, participating actors and target node names. One Context is shared by
// all actor goroutines; generators keep their own state under their own
// locks.
type Context struct {
	Start  time.Time
	Clock  Clock
	Actors []history.Actor
	Nodes  []string
}

// NewContext returns a run context started at the clock's current time.
func NewContext(clock Clock, actors int, nodes []string) *Context {
	if clock == nil {
		clock = RealClock{}
	}
	as := make([]history.Actor, actors)
	for i := range as {
		as[i] = history.Actor(i)
	}
	return &Context{
		Start:  clock.Now(),
		Clock:  clock,
		Actors: as,
		Nodes:  nodes,
	}
}

// Elapsed returns the time since the run started.
func (c *Context) Elapsed() time.Duration {
	return c.Clock.Since(c.Start)
}

// Done returns a generator that is exhausted from the first pull.
func Done() Generator {
	return Func(func(context.Context, *Context, history.Actor) (history.Op, error) {
		return history.Op{}, ErrExhausted
	})
}

// FromOps emits the given operation templates once each, in order.
func FromOps(ops ...history.Op) Generator {
	g := &seqGen{ops: make([]history.Op, len(ops))}
	copy(g.ops, ops)
	return g
}

type seqGen struct {
	mu  sync.Mutex
	ops []history.Op
}

func (g *seqGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	if err := ctx.Err(); err != nil {
		return history.Op{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ops) == 0 {
		return history.Op{}, ErrExhausted
	}
	op := g.ops[0]
	g.ops = g.ops[1:]
	return op, nil
}

// Repeat emits copies of op forever.
func Repeat(op history.Op) Generator {
	return Func(func(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		return op, nil
	})
}

// Each builds one operation per pull from fn until fn reports exhaustion.
func Each(fn func() (history.Op, bool)) Generator {
	var mu sync.Mutex
	return Func(func(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		mu.Lock()
		op, ok := fn()
		mu.Unlock()
		if !ok {
			return history.Op{}, ErrExhausted
		}
		return op, nil
	})
}

// Sleep emits nothing and exhausts once d has elapsed from the first pull.
// Useful between phases to let the system settle.
func Sleep(d time.Duration) Generator {
	return &sleepGen{d: d}
}

type sleepGen struct {
	mu       sync.Mutex
	d        time.Duration
	deadline time.Time
}

func (g *sleepGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	g.mu.Lock()
	if g.deadline.IsZero() {
		g.deadline = c.Clock.Now().Add(g.d)
	}
	wait := g.deadline.Sub(c.Clock.Now())
	g.mu.Unlock()

	if wait > 0 {
		if err := c.Clock.Sleep(ctx, wait); err != nil {
			return history.Op{}, err
		}
	}
	return history.Op{}, ErrExhausted
}

// update forwards a completion to g when it wants one.
func update(g Generator, c *Context, op history.Op) {
	if u, ok := g.(Updater); ok {
		u.Update(c, op)
	}
}

// fatal reports whether a generator error should abort the run rather than
// end a branch.
func fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrExhausted)
}
