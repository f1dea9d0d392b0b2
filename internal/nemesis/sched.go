package nemesis

import (
	"context"
	"fmt"
	"sync"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// SchedStress loads the process scheduler on a random subset of nodes so
// the system under test runs slow without failing outright.
type SchedStress struct {
	mu       sync.Mutex
	sched    target.SchedControl
	nodes    []string
	stressed map[string]bool
}

var _ Handler = (*SchedStress)(nil)

func NewSchedStress(sched target.SchedControl, nodes []string) *SchedStress {
	return &SchedStress{
		sched:    sched,
		nodes:    nodes,
		stressed: make(map[string]bool),
	}
}

func (s *SchedStress) Tags() []history.F {
	return []history.F{FStressSched, FResetSched}
}

func (s *SchedStress) Setup(ctx context.Context) error {
	return s.sched.ResetSched(ctx, nil)
}

func (s *SchedStress) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	switch op.F {
	case FStressSched:
		targets := randomSubset(s.nodes)
		if err := s.sched.StressSched(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		s.mu.Lock()
		for _, n := range targets {
			s.stressed[n] = true
		}
		s.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "stressed")), nil

	case FResetSched:
		s.mu.Lock()
		targets := sortedKeys(s.stressed)
		s.mu.Unlock()
		if len(targets) == 0 {
			return op.Completed(history.OK).WithValue(nodeResults(nil, "")), nil
		}
		if err := s.sched.ResetSched(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		s.mu.Lock()
		s.stressed = make(map[string]bool)
		s.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "reset")), nil
	}
	return history.Op{}, fmt.Errorf("sched stress cannot execute %q", op.F)
}

func (s *SchedStress) Teardown(ctx context.Context) error {
	s.mu.Lock()
	s.stressed = make(map[string]bool)
	s.mu.Unlock()
	return s.sched.ResetSched(ctx, nil)
}

// Stressed lists the nodes currently under scheduler load.
func (s *SchedStress) Stressed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.stressed)
}
