package nemesis

import (
	"context"
	"fmt"
	"sync"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// Killer crashes a random subset of node processes and restarts them.
type Killer struct {
	mu     sync.Mutex
	proc   target.ProcessControl
	nodes  []string
	killed map[string]bool
}

var _ Handler = (*Killer)(nil)

func NewKiller(proc target.ProcessControl, nodes []string) *Killer {
	return &Killer{
		proc:   proc,
		nodes:  nodes,
		killed: make(map[string]bool),
	}
}

func (k *Killer) Tags() []history.F {
	return []history.F{FKill, FRestart}
}

func (k *Killer) Setup(ctx context.Context) error {
	return k.proc.Restart(ctx, nil)
}

func (k *Killer) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	switch op.F {
	case FKill:
		targets := randomSubset(k.nodes)
		if err := k.proc.Kill(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		k.mu.Lock()
		for _, n := range targets {
			k.killed[n] = true
		}
		k.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "killed")), nil

	case FRestart:
		k.mu.Lock()
		targets := sortedKeys(k.killed)
		k.mu.Unlock()
		if len(targets) == 0 {
			return op.Completed(history.OK).WithValue(nodeResults(nil, "")), nil
		}
		if err := k.proc.Restart(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		k.mu.Lock()
		k.killed = make(map[string]bool)
		k.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "restarted")), nil
	}
	return history.Op{}, fmt.Errorf("killer cannot execute %q", op.F)
}

func (k *Killer) Teardown(ctx context.Context) error {
	k.mu.Lock()
	k.killed = make(map[string]bool)
	k.mu.Unlock()
	return k.proc.Restart(ctx, nil)
}

// Killed lists the nodes currently down at this handler's hand.
func (k *Killer) Killed() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return sortedKeys(k.killed)
}
