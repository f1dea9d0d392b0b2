// Package target defines the control surface of the system under test.
//
// The nemesis drives a Cluster to inject faults; workload clients issue
// register operations against it. Real deployments put an SSH or agent
// transport behind these interfaces; SimCluster provides an in-process
// implementation so the harness runs end-to-end without infrastructure.
package target

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownNode is returned when an operation names a node the
	// cluster has never heard of.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnavailable is returned when the contacted node is down. The
	// operation definitely did not take effect.
	ErrUnavailable = errors.New("node unavailable")

	// ErrTimeout is returned when the contacted node stopped responding
	// mid-flight. The operation may or may not have taken effect.
	ErrTimeout = errors.New("operation timed out")

	// ErrNoQuorum is returned when the contacted node cannot reach a
	// majority of the cluster. The operation definitely did not commit.
	ErrNoQuorum = errors.New("no quorum")

	// ErrCASMismatch is returned when a compare-and-set's expected value
	// does not match the register's current value.
	ErrCASMismatch = errors.New("cas mismatch")
)

// ProcessControl kills, restarts, pauses and resumes node processes.
// An empty node slice addresses every node in the cluster.
type ProcessControl interface {
	Kill(ctx context.Context, nodes []string) error
	Restart(ctx context.Context, nodes []string) error
	Pause(ctx context.Context, nodes []string) error
	Resume(ctx context.Context, nodes []string) error
}

// NetworkControl installs and heals network partitions. A partition is
// a list of sides; nodes on different sides cannot reach each other.
type NetworkControl interface {
	Partition(ctx context.Context, sides [][]string) error
	Heal(ctx context.Context) error
}

// ClockControl skews node wall clocks. Bump applies a one-shot offset;
// Strobe flips the clock between the true time and the skewed time every
// period for the given duration. Reset restores the true time.
type ClockControl interface {
	BumpClock(ctx context.Context, node string, delta time.Duration) error
	StrobeClock(ctx context.Context, node string, delta, period, duration time.Duration) error
	ResetClock(ctx context.Context, nodes []string) error
}

// SchedControl perturbs and restores the process scheduler on nodes.
type SchedControl interface {
	StressSched(ctx context.Context, nodes []string) error
	ResetSched(ctx context.Context, nodes []string) error
}

// Cluster is the full fault-injection surface plus node discovery.
type Cluster interface {
	ProcessControl
	NetworkControl
	ClockControl
	SchedControl
	Nodes() []string
}
