package nemesis

import (
	"context"
	"fmt"
	"sync"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// Pauser suspends a random subset of node processes and resumes them.
// A paused process keeps its sockets open, so clients see hangs instead
// of refused connections.
type Pauser struct {
	mu     sync.Mutex
	proc   target.ProcessControl
	nodes  []string
	paused map[string]bool
}

var _ Handler = (*Pauser)(nil)

func NewPauser(proc target.ProcessControl, nodes []string) *Pauser {
	return &Pauser{
		proc:   proc,
		nodes:  nodes,
		paused: make(map[string]bool),
	}
}

func (p *Pauser) Tags() []history.F {
	return []history.F{FPause, FResume}
}

func (p *Pauser) Setup(ctx context.Context) error {
	return p.proc.Resume(ctx, nil)
}

func (p *Pauser) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	switch op.F {
	case FPause:
		targets := randomSubset(p.nodes)
		if err := p.proc.Pause(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		p.mu.Lock()
		for _, n := range targets {
			p.paused[n] = true
		}
		p.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "paused")), nil

	case FResume:
		p.mu.Lock()
		targets := sortedKeys(p.paused)
		p.mu.Unlock()
		if len(targets) == 0 {
			return op.Completed(history.OK).WithValue(nodeResults(nil, "")), nil
		}
		if err := p.proc.Resume(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		p.mu.Lock()
		p.paused = make(map[string]bool)
		p.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "resumed")), nil
	}
	return history.Op{}, fmt.Errorf("pauser cannot execute %q", op.F)
}

func (p *Pauser) Teardown(ctx context.Context) error {
	p.mu.Lock()
	p.paused = make(map[string]bool)
	p.mu.Unlock()
	return p.proc.Resume(ctx, nil)
}

// Paused lists the nodes currently suspended at this handler's hand.
func (p *Pauser) Paused() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.paused)
}
