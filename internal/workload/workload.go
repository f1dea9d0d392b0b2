// Package workload defines the client boundary between the scheduler and
// the system under test, plus reference workloads that drive a replicated
// register surface. A workload pairs a generator that plans operations with
// a client that executes them; both sides speak history.Op, and every
// operation's value is a gen.Keyed naming the register it targets.
package workload

import (
	"context"
	"fmt"

	"chaos-harness/internal/config"
	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
)

// Workload operation tags.
const (
	FRead  history.F = "read"
	FWrite history.F = "write"
	FCAS   history.F = "cas"
)

// KV is the register surface workloads drive. The simulated cluster
// implements it; a real deployment would put a database client here.
type KV interface {
	Read(ctx context.Context, node, key string) (int64, error)
	Write(ctx context.Context, node, key string, v int64) error
	CAS(ctx context.Context, node, key string, from, to int64) error
}

// Client executes workload operations. Problems talking to the system under
// test are encoded in the completion type (fail when the effect is known not
// to have applied, info when indeterminate); a non-nil error means the
// client was handed an operation it cannot understand and aborts the run.
type Client interface {
	Setup(ctx context.Context) error
	Invoke(ctx context.Context, c *gen.Context, op history.Op) (history.Op, error)
	Teardown(ctx context.Context) error
}

// Workload pairs an operation schedule with the client that executes it.
type Workload struct {
	Name      string
	Generator gen.Generator
	Client    Client
}

// Build constructs the named workload over kv.
func Build(cfg *config.WorkloadConfig, kv KV) (*Workload, error) {
	switch cfg.Name {
	case "register":
		return Register(cfg, kv), nil
	case "mixed":
		return Mixed(cfg, kv), nil
	}
	return nil, fmt.Errorf("unknown workload %q (have register, mixed)", cfg.Name)
}
