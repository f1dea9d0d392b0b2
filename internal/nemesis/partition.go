package nemesis

import (
	"context"
	"fmt"
	"sync"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// Partitioner splits the network into two random sides and heals it.
type Partitioner struct {
	mu     sync.Mutex
	net    target.NetworkControl
	nodes  []string
	active bool
}

var _ Handler = (*Partitioner)(nil)

func NewPartitioner(net target.NetworkControl, nodes []string) *Partitioner {
	return &Partitioner{net: net, nodes: nodes}
}

func (p *Partitioner) Tags() []history.F {
	return []history.F{FStartPart, FStopPart}
}

func (p *Partitioner) Setup(ctx context.Context) error {
	return p.net.Heal(ctx)
}

func (p *Partitioner) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	switch op.F {
	case FStartPart:
		sides := randomSplit(p.nodes)
		if len(sides) < 2 {
			return op.Completed(history.Fail).WithError(fmt.Errorf("cluster of %d cannot be partitioned", len(p.nodes))), nil
		}
		if err := p.net.Partition(ctx, sides); err != nil {
			return completeError(op, err), nil
		}
		p.mu.Lock()
		p.active = true
		p.mu.Unlock()
		return op.Completed(history.OK).WithValue(sides), nil

	case FStopPart:
		p.mu.Lock()
		active := p.active
		p.mu.Unlock()
		if !active {
			return op.Completed(history.OK).WithValue("fully-connected"), nil
		}
		if err := p.net.Heal(ctx); err != nil {
			return completeError(op, err), nil
		}
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		return op.Completed(history.OK).WithValue("fully-connected"), nil
	}
	return history.Op{}, fmt.Errorf("partitioner cannot execute %q", op.F)
}

func (p *Partitioner) Teardown(ctx context.Context) error {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
	return p.net.Heal(ctx)
}

// Active reports whether a partition this handler installed is live.
func (p *Partitioner) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
