package workload

import (
	"context"
	"errors"
	"fmt"

	"chaos-harness/internal/config"
	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

const lastWrittenSize = 16

// Register builds the register workload: each key gets an isolated schedule
// of reads, writes and compare-and-sets capped at cfg.OpsPerKey operations,
// with cfg.PerKey actors working one key at a time. Writes carry fresh
// values from an owned counter; compare-and-set expectations come from the
// values written most recently.
func Register(cfg *config.WorkloadConfig, kv KV) *Workload {
	counter := &Counter{}
	last := NewLastWritten(lastWrittenSize)

	keys := make([]any, cfg.Keys)
	for i := range keys {
		keys[i] = i
	}
	sub := func(key any) gen.Generator {
		reads := gen.Repeat(history.Op{F: FRead})
		writes := gen.Each(func() (history.Op, bool) {
			v := counter.Next()
			last.Record(v)
			return history.Op{F: FWrite, Value: v}, true
		})
		cas := gen.Each(func() (history.Op, bool) {
			from, ok := last.Pick()
			if !ok {
				from = 0
			}
			return history.Op{F: FCAS, Value: []int64{from, counter.Next()}}, true
		})
		return gen.Limit(cfg.OpsPerKey, gen.Mix(reads, writes, cas))
	}

	var root gen.Generator = gen.Independent(gen.Keys(keys...), sub, cfg.PerKey)
	if cfg.Interval > 0 {
		root = gen.Stagger(cfg.Interval, root)
	}
	return &Workload{
		Name:      "register",
		Generator: root,
		Client:    &kvClient{kv: kv},
	}
}

// kvClient executes register operations, binding each actor to one node
// round-robin so per-node faults surface in that actor's latency.
type kvClient struct {
	kv KV
}

var _ Client = (*kvClient)(nil)

func (c *kvClient) Setup(ctx context.Context) error    { return nil }
func (c *kvClient) Teardown(ctx context.Context) error { return nil }

func (c *kvClient) Invoke(ctx context.Context, g *gen.Context, op history.Op) (history.Op, error) {
	keyed, ok := op.Value.(gen.Keyed)
	if !ok {
		return history.Op{}, fmt.Errorf("workload client needs keyed values, got %T", op.Value)
	}
	node := nodeFor(g.Nodes, op.Actor)
	key := fmt.Sprint(keyed.Key)

	switch op.F {
	case FRead:
		v, err := c.kv.Read(ctx, node, key)
		if err != nil {
			return completeKV(op, err), nil
		}
		return op.Completed(history.OK).WithValue(gen.Keyed{Key: keyed.Key, Value: v}), nil

	case FWrite:
		v, ok := keyed.Value.(int64)
		if !ok {
			return history.Op{}, fmt.Errorf("write value has type %T, want int64", keyed.Value)
		}
		if err := c.kv.Write(ctx, node, key, v); err != nil {
			return completeKV(op, err), nil
		}
		return op.Completed(history.OK), nil

	case FCAS:
		pair, ok := keyed.Value.([]int64)
		if !ok || len(pair) != 2 {
			return history.Op{}, fmt.Errorf("cas value is %v, want a [from, to] pair", keyed.Value)
		}
		if err := c.kv.CAS(ctx, node, key, pair[0], pair[1]); err != nil {
			return completeKV(op, err), nil
		}
		return op.Completed(history.OK), nil
	}
	return history.Op{}, fmt.Errorf("workload client cannot invoke %q", op.F)
}

// completeKV maps kv errors onto completion types: outcomes known not to
// have applied fail, everything indeterminate stays open as info.
func completeKV(op history.Op, err error) history.Op {
	switch {
	case errors.Is(err, target.ErrUnavailable),
		errors.Is(err, target.ErrNoQuorum),
		errors.Is(err, target.ErrCASMismatch),
		errors.Is(err, target.ErrUnknownNode):
		return op.Completed(history.Fail).WithError(err)
	}
	return op.Completed(history.Info).WithError(err)
}

func nodeFor(nodes []string, a history.Actor) string {
	if len(nodes) == 0 {
		return ""
	}
	i := int(a)
	if i < 0 {
		i = 0
	}
	return nodes[i%len(nodes)]
}
