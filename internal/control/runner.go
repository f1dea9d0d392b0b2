// Package control runs tests: it schedules workload actors and the fault
// injector against their generators, records every operation in one
// history, and guarantees the fault cleanup sequence runs even when the
// run aborts.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/logging"
	"chaos-harness/internal/nemesis"
	"chaos-harness/internal/workload"
)

// cleanupGrace bounds the cleanup phase once the main phase has ended.
const cleanupGrace = time.Minute

var errAborted = errors.New("run aborted before completion")

// Test is one run's complete wiring: the workload driving the system under
// test, the fault schedule, and the shape of the actor pool.
type Test struct {
	Name     string
	Actors   int
	Nodes    []string
	Limit    time.Duration
	Clock    gen.Clock
	Logger   *logging.Logger
	Workload *workload.Workload
	Schedule *nemesis.Schedule
}

// Result is what a run leaves behind. The history is present even when the
// run aborted partway.
type Result struct {
	Name     string
	History  *history.History
	Start    time.Time
	Duration time.Duration
	Ops      int
}

// Runner executes one test.
type Runner struct {
	test *Test
}

// New validates the test wiring and returns a runner for it.
func New(t *Test) (*Runner, error) {
	if t == nil {
		return nil, fmt.Errorf("test cannot be nil")
	}
	if t.Name == "" {
		return nil, fmt.Errorf("test needs a name")
	}
	if t.Actors < 1 {
		return nil, fmt.Errorf("test needs at least one actor, got %d", t.Actors)
	}
	if len(t.Nodes) == 0 {
		return nil, fmt.Errorf("test needs target nodes")
	}
	if t.Workload == nil {
		return nil, fmt.Errorf("test needs a workload")
	}
	if t.Schedule == nil {
		return nil, fmt.Errorf("test needs a fault schedule")
	}
	if err := t.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("fault schedule: %w", err)
	}
	if t.Clock == nil {
		t.Clock = gen.RealClock{}
	}
	if t.Logger == nil {
		cfg := logging.TestLoggingConfig()
		t.Logger = logging.NewLogger(&cfg)
	}
	return &Runner{test: t}, nil
}

// Run drives the test to completion: one goroutine per workload actor plus
// one for the nemesis, each looping pull, invoke, execute, complete. The
// recorded history is returned even when the run aborts; the error reports
// why it aborted. Fault cleanup and teardown always run, on a context
// detached from ctx.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	t := r.test
	c := gen.NewContext(t.Clock, t.Actors, t.Nodes)
	h := history.New()
	handler := t.Schedule.Handler()

	t.Logger.RunStart(t.Name, t.Actors, t.Nodes)

	if err := t.Workload.Client.Setup(ctx); err != nil {
		return nil, fmt.Errorf("workload setup: %w", err)
	}
	if err := handler.Setup(ctx); err != nil {
		if terr := t.Workload.Client.Teardown(ctx); terr != nil {
			t.Logger.WithError(terr).Error("Workload teardown failed")
		}
		return nil, fmt.Errorf("fault setup: %w", err)
	}

	workGen := t.Workload.Generator
	faultGen := t.Schedule.Ongoing()
	if t.Limit > 0 {
		workGen = gen.TimeLimit(t.Limit, workGen)
		faultGen = gen.TimeLimit(t.Limit, faultGen)
	}

	g, runCtx := errgroup.WithContext(ctx)
	for _, a := range c.Actors {
		a := a
		g.Go(func() error {
			return r.actorLoop(runCtx, c, h, a, workGen, t.Workload.Client.Invoke)
		})
	}
	g.Go(func() error {
		return r.actorLoop(runCtx, c, h, history.Nemesis, faultGen, r.executeFault(handler))
	})
	runErr := g.Wait()

	// Cleanup is detached from ctx so a user abort cannot skip it.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupGrace)
	defer cancel()
	if err := r.cleanup(cleanupCtx, c, h, handler); err != nil && runErr == nil {
		runErr = err
	}
	if err := handler.Teardown(cleanupCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("fault teardown: %w", err)
	}
	if err := t.Workload.Client.Teardown(cleanupCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("workload teardown: %w", err)
	}

	res := &Result{
		Name:     t.Name,
		History:  h,
		Start:    c.Start,
		Duration: t.Clock.Since(c.Start),
		Ops:      h.Len(),
	}
	t.Logger.RunEnd(t.Name, res.Ops, res.Duration, runErr)
	return res, runErr
}

// actorLoop is one actor's schedule: pull, record the invocation, execute,
// record the completion, feed the completion back. Generator and lifecycle
// errors are fatal; execution problems arrive as completions and never
// abort the run.
func (r *Runner) actorLoop(ctx context.Context, c *gen.Context, h *history.History, a history.Actor, root gen.Generator, exec func(context.Context, *gen.Context, history.Op) (history.Op, error)) error {
	for {
		op, err := root.Next(ctx, c, a)
		if errors.Is(err, gen.ErrExhausted) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s generator: %w", a, err)
		}

		op.Actor = a
		op.Type = history.Invoke
		op.Time = c.Clock.Now()
		invoked, err := h.Append(op)
		if err != nil {
			return err
		}

		done, err := exec(ctx, c, invoked)
		if err != nil {
			return fmt.Errorf("%s execute %q: %w", a, invoked.F, err)
		}
		done.Actor = a
		done.Time = c.Clock.Now()
		completed, err := h.Append(done)
		if err != nil {
			return err
		}
		if u, ok := root.(gen.Updater); ok {
			u.Update(c, completed)
		}
	}
}

// executeFault adapts the composite handler to the actor loop and logs
// every fault outcome.
func (r *Runner) executeFault(handler nemesis.Handler) func(context.Context, *gen.Context, history.Op) (history.Op, error) {
	return func(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
		done, err := handler.Execute(ctx, c, op)
		if err != nil {
			return history.Op{}, err
		}
		r.test.Logger.FaultEvent(string(done.F), done.Value, string(done.Type))
		return done, nil
	}
}

// cleanup closes any invocation an abort left open, then runs the stop
// sequence so every enabled fault category is healed whether or not it
// ever fired.
func (r *Runner) cleanup(ctx context.Context, c *gen.Context, h *history.History, handler nemesis.Handler) error {
	for _, open := range h.Pending() {
		done := open.Completed(history.Info).WithError(errAborted)
		done.Time = c.Clock.Now()
		if _, err := h.Append(done); err != nil {
			return err
		}
	}

	final := r.test.Schedule.Final()
	for {
		op, err := final.Next(ctx, c, history.Nemesis)
		if errors.Is(err, gen.ErrExhausted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cleanup generator: %w", err)
		}

		op.Actor = history.Nemesis
		op.Type = history.Invoke
		op.Time = c.Clock.Now()
		invoked, err := h.Append(op)
		if err != nil {
			return err
		}

		done, err := handler.Execute(ctx, c, invoked)
		if err != nil {
			return fmt.Errorf("cleanup execute %q: %w", invoked.F, err)
		}
		done.Actor = history.Nemesis
		done.Time = c.Clock.Now()
		if _, err := h.Append(done); err != nil {
			return err
		}
		r.test.Logger.FaultEvent(string(done.F), done.Value, string(done.Type))
	}
}
