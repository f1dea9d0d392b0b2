package target

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"chaos-harness/internal/gen"
)

const (
	baseLatency    = 5 * time.Millisecond
	jitterLatency  = 5 * time.Millisecond
	retryPenalty   = 2 * time.Millisecond
	strobeFactor   = 2
	stressedFactor = 5
)

// SimCluster simulates a quorum-replicated register service. Every node
// holds the same register set; an operation contacts one node and commits
// only if that node can reach a majority of the cluster. Fault state set
// through the Cluster interface degrades latency and availability the way
// a real deployment would, so fault windows show up in the perf series.
type SimCluster struct {
	mu    sync.Mutex
	clock gen.Clock
	nodes []string
	rng   *rand.Rand

	down      map[string]bool
	paused    map[string]bool
	sides     [][]string
	offset    map[string]time.Duration
	strobing  map[string]bool
	stressed  map[string]bool
	registers map[string]int64
}

var _ Cluster = (*SimCluster)(nil)

// NewSimCluster creates a simulated cluster over the given node names.
// The seed fixes the latency jitter stream for reproducible runs.
func NewSimCluster(nodes []string, clock gen.Clock, seed int64) *SimCluster {
	ns := make([]string, len(nodes))
	copy(ns, nodes)
	return &SimCluster{
		clock:     clock,
		nodes:     ns,
		rng:       rand.New(rand.NewSource(seed)),
		down:      make(map[string]bool),
		paused:    make(map[string]bool),
		offset:    make(map[string]time.Duration),
		strobing:  make(map[string]bool),
		stressed:  make(map[string]bool),
		registers: make(map[string]int64),
	}
}

func (s *SimCluster) Nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := make([]string, len(s.nodes))
	copy(ns, s.nodes)
	return ns
}

// resolve defaults an empty node list to the whole cluster and rejects
// unknown names.
func (s *SimCluster) resolve(nodes []string) ([]string, error) {
	if len(nodes) == 0 {
		ns := make([]string, len(s.nodes))
		copy(ns, s.nodes)
		return ns, nil
	}
	for _, n := range nodes {
		if !s.knows(n) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n)
		}
	}
	return nodes, nil
}

func (s *SimCluster) knows(node string) bool {
	for _, n := range s.nodes {
		if n == node {
			return true
		}
	}
	return false
}

func (s *SimCluster) Kill(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.down[n] = true
	}
	return nil
}

func (s *SimCluster) Restart(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.down[n] = false
	}
	return nil
}

func (s *SimCluster) Pause(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.paused[n] = true
	}
	return nil
}

func (s *SimCluster) Resume(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.paused[n] = false
	}
	return nil
}

func (s *SimCluster) Partition(ctx context.Context, sides [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, side := range sides {
		for _, n := range side {
			if !s.knows(n) {
				return fmt.Errorf("%w: %s", ErrUnknownNode, n)
			}
		}
	}
	copied := make([][]string, len(sides))
	for i, side := range sides {
		copied[i] = make([]string, len(side))
		copy(copied[i], side)
	}
	s.sides = copied
	return nil
}

func (s *SimCluster) Heal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sides = nil
	return nil
}

func (s *SimCluster) BumpClock(ctx context.Context, node string, delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knows(node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	s.offset[node] += delta
	return nil
}

func (s *SimCluster) StrobeClock(ctx context.Context, node string, delta, period, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knows(node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	s.strobing[node] = true
	s.offset[node] = delta
	return nil
}

func (s *SimCluster) ResetClock(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.offset[n] = 0
		s.strobing[n] = false
	}
	return nil
}

func (s *SimCluster) StressSched(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.stressed[n] = true
	}
	return nil
}

func (s *SimCluster) ResetSched(ctx context.Context, nodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.resolve(nodes)
	if err != nil {
		return err
	}
	for _, n := range targets {
		s.stressed[n] = false
	}
	return nil
}

// Inspection helpers used by tests and fault handlers.

func (s *SimCluster) Running(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knows(node) && !s.down[node]
}

func (s *SimCluster) PausedNode(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[node]
}

func (s *SimCluster) ClockOffset(node string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset[node]
}

func (s *SimCluster) Strobing(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strobing[node]
}

func (s *SimCluster) Stressed(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stressed[node]
}

func (s *SimCluster) PartitionSides() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sides == nil {
		return nil
	}
	copied := make([][]string, len(s.sides))
	for i, side := range s.sides {
		copied[i] = make([]string, len(side))
		copy(copied[i], side)
	}
	return copied
}

// Read returns the register's current value. Fresh registers read as zero.
func (s *SimCluster) Read(ctx context.Context, node, key string) (int64, error) {
	var value int64
	err := s.call(ctx, node, func() error {
		value = s.registers[key]
		return nil
	})
	return value, err
}

// Write sets the register to v.
func (s *SimCluster) Write(ctx context.Context, node, key string, v int64) error {
	return s.call(ctx, node, func() error {
		s.registers[key] = v
		return nil
	})
}

// CAS sets the register to 'to' if its current value equals 'from'.
func (s *SimCluster) CAS(ctx context.Context, node, key string, from, to int64) error {
	return s.call(ctx, node, func() error {
		if s.registers[key] != from {
			return ErrCASMismatch
		}
		s.registers[key] = to
		return nil
	})
}

// call runs one register operation against a node: admission check and
// latency are computed first, the simulated service time is slept off the
// lock, then the apply function runs against the current state. A node
// that dies while the op is in flight yields ErrTimeout, since the caller
// cannot know whether the apply happened.
func (s *SimCluster) call(ctx context.Context, node string, apply func() error) error {
	s.mu.Lock()
	if !s.knows(node) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	if s.down[node] {
		s.mu.Unlock()
		return ErrUnavailable
	}
	if s.paused[node] {
		s.mu.Unlock()
		return ErrTimeout
	}
	latency := s.latency(node)
	reachable := s.reachable(node)
	s.mu.Unlock()

	if err := s.clock.Sleep(ctx, latency); err != nil {
		return ErrTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down[node] || s.paused[node] {
		return ErrTimeout
	}
	if reachable < len(s.nodes)/2+1 {
		return ErrNoQuorum
	}
	return apply()
}

// latency models the service time observed by one call. Callers hold mu.
func (s *SimCluster) latency(node string) time.Duration {
	d := baseLatency + time.Duration(s.rng.Int63n(int64(jitterLatency)))
	d += retryPenalty * time.Duration(len(s.nodes)-s.reachable(node))
	if s.strobing[node] || s.offset[node] != 0 {
		d *= strobeFactor
	}
	if s.stressed[node] {
		d *= stressedFactor
	}
	return d
}

// reachable counts live nodes on the same partition side as node,
// including node itself. Callers hold mu.
func (s *SimCluster) reachable(node string) int {
	count := 0
	for _, n := range s.nodes {
		if s.down[n] || s.paused[n] {
			continue
		}
		if s.sameSide(node, n) {
			count++
		}
	}
	return count
}

// sameSide reports whether two nodes can talk. With no partition all
// nodes connect; under one, nodes absent from every side are isolated.
func (s *SimCluster) sameSide(a, b string) bool {
	if s.sides == nil {
		return true
	}
	if a == b {
		return true
	}
	for _, side := range s.sides {
		var hasA, hasB bool
		for _, n := range side {
			if n == a {
				hasA = true
			}
			if n == b {
				hasB = true
			}
		}
		if hasA || hasB {
			return hasA && hasB
		}
	}
	return false
}
