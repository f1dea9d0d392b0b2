// Package nemesis injects faults into a target cluster on a schedule. Each
// fault category pairs a handler, which applies and heals one class of
// fault, with generators that decide when its start and stop operations
// fire. A composite dispatcher routes operations to handlers by function
// tag, and a schedule builder assembles the enabled categories into one
// ongoing schedule plus a deterministic cleanup sequence.
package nemesis

import (
	"context"
	"fmt"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
)

// Fault operation tags. Start tags open a fault window, stop tags close it.
const (
	FKill        history.F = "kill"
	FRestart     history.F = "restart"
	FPause       history.F = "pause"
	FResume      history.F = "resume"
	FStartPart   history.F = "start-partition"
	FStopPart    history.F = "stop-partition"
	FBumpClock   history.F = "bump-clock"
	FStrobeClock history.F = "strobe-clock"
	FResetClock  history.F = "reset-clock"
	FStressSched history.F = "stress-sched"
	FResetSched  history.F = "reset-sched"
)

// Handler applies one category of fault. Execute turns an invocation into
// its completion: fault-level problems are encoded in the completion type
// (Fail when the fault definitely did not apply, Info when the outcome is
// unknown), never returned as errors. A non-nil error from Execute means
// the harness itself is broken and aborts the run. Stop operations must be
// idempotent: stopping a fault that is not active completes OK as a no-op.
type Handler interface {
	// Tags lists the operation functions this handler owns.
	Tags() []history.F
	// Setup prepares the handler before any fault is injected.
	Setup(ctx context.Context) error
	// Execute applies op and returns its completion.
	Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error)
	// Teardown heals anything the handler still has broken.
	Teardown(ctx context.Context) error
}

// Compose routes operations across handlers by tag. Tag sets must be
// disjoint; an overlap is a construction error reported before any fault
// touches a node.
func Compose(handlers ...Handler) (Handler, error) {
	byTag := make(map[history.F]Handler)
	for _, h := range handlers {
		for _, tag := range h.Tags() {
			if prev, ok := byTag[tag]; ok {
				return nil, fmt.Errorf("fault tag %q claimed by both %T and %T", tag, prev, h)
			}
			byTag[tag] = h
		}
	}
	return &composite{handlers: handlers, byTag: byTag}, nil
}

type composite struct {
	handlers []Handler
	byTag    map[history.F]Handler
}

func (m *composite) Tags() []history.F {
	var tags []history.F
	for _, h := range m.handlers {
		tags = append(tags, h.Tags()...)
	}
	return tags
}

func (m *composite) Setup(ctx context.Context) error {
	for _, h := range m.handlers {
		if err := h.Setup(ctx); err != nil {
			return fmt.Errorf("handler %T setup: %w", h, err)
		}
	}
	return nil
}

func (m *composite) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	h, ok := m.byTag[op.F]
	if !ok {
		return history.Op{}, fmt.Errorf("no fault handler owns tag %q", op.F)
	}
	return h.Execute(ctx, c, op)
}

// Teardown heals every handler even when one fails, returning the first
// error encountered.
func (m *composite) Teardown(ctx context.Context) error {
	var first error
	for _, h := range m.handlers {
		if err := h.Teardown(ctx); err != nil && first == nil {
			first = fmt.Errorf("handler %T teardown: %w", h, err)
		}
	}
	return first
}

// Noop is a handler with no tags and no effects, used when every fault
// category is disabled.
type Noop struct{}

var _ Handler = Noop{}

func (Noop) Tags() []history.F              { return nil }
func (Noop) Setup(context.Context) error    { return nil }
func (Noop) Teardown(context.Context) error { return nil }

func (Noop) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	return history.Op{}, fmt.Errorf("no fault handler owns tag %q", op.F)
}
