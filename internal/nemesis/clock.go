package nemesis

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// ClockSkew desynchronizes node wall clocks two ways: bumps apply a
// one-shot offset of random magnitude and sign, strobes flip the clock
// between true and skewed time every few milliseconds. Both are healed by
// the same reset operation, so the category's start and stop tags are
// asymmetric.
type ClockSkew struct {
	mu     sync.Mutex
	clocks target.ClockControl
	nodes  []string
	skewed map[string]bool
}

var _ Handler = (*ClockSkew)(nil)

const strobeDelta = 200 * time.Millisecond

func NewClockSkew(clocks target.ClockControl, nodes []string) *ClockSkew {
	return &ClockSkew{
		clocks: clocks,
		nodes:  nodes,
		skewed: make(map[string]bool),
	}
}

func (s *ClockSkew) Tags() []history.F {
	return []history.F{FBumpClock, FStrobeClock, FResetClock}
}

func (s *ClockSkew) Setup(ctx context.Context) error {
	return s.clocks.ResetClock(ctx, nil)
}

func (s *ClockSkew) Execute(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error) {
	switch op.F {
	case FBumpClock:
		targets := randomSubset(s.nodes)
		deltas := make(map[string]int64, len(targets))
		for _, n := range targets {
			delta := randomBump()
			if err := s.clocks.BumpClock(ctx, n, delta); err != nil {
				return completeError(op, err), nil
			}
			deltas[n] = delta.Milliseconds()
		}
		s.markSkewed(targets)
		return op.Completed(history.OK).WithValue(deltas), nil

	case FStrobeClock:
		targets := randomSubset(s.nodes)
		period := randomStrobePeriod()
		duration := time.Duration(1+rand.Intn(8)) * time.Second
		for _, n := range targets {
			if err := s.clocks.StrobeClock(ctx, n, strobeDelta, period, duration); err != nil {
				return completeError(op, err), nil
			}
		}
		s.markSkewed(targets)
		value := map[string]int64{
			"delta_ms":    strobeDelta.Milliseconds(),
			"period_ms":   period.Milliseconds(),
			"duration_ms": duration.Milliseconds(),
		}
		return op.Completed(history.OK).WithValue(map[string]any{"nodes": targets, "strobe": value}), nil

	case FResetClock:
		s.mu.Lock()
		targets := sortedKeys(s.skewed)
		s.mu.Unlock()
		if len(targets) == 0 {
			return op.Completed(history.OK).WithValue(nodeResults(nil, "")), nil
		}
		if err := s.clocks.ResetClock(ctx, targets); err != nil {
			return completeError(op, err), nil
		}
		s.mu.Lock()
		s.skewed = make(map[string]bool)
		s.mu.Unlock()
		return op.Completed(history.OK).WithValue(nodeResults(targets, "reset")), nil
	}
	return history.Op{}, fmt.Errorf("clock skew cannot execute %q", op.F)
}

func (s *ClockSkew) Teardown(ctx context.Context) error {
	s.mu.Lock()
	s.skewed = make(map[string]bool)
	s.mu.Unlock()
	return s.clocks.ResetClock(ctx, nil)
}

// Skewed lists the nodes whose clocks this handler has disturbed.
func (s *ClockSkew) Skewed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.skewed)
}

func (s *ClockSkew) markSkewed(nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.skewed[n] = true
	}
}

// randomBump draws a power-of-two offset between 4ms and two minutes,
// forward or backward.
func randomBump() time.Duration {
	ms := int64(4) << rand.Intn(16)
	if rand.Intn(2) == 0 {
		ms = -ms
	}
	return time.Duration(ms) * time.Millisecond
}

// randomStrobePeriod draws the flip period: 4, 8, 16 or 32ms.
func randomStrobePeriod() time.Duration {
	return time.Duration(4<<rand.Intn(4)) * time.Millisecond
}
