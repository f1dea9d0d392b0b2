package workload

import (
	"context"
	"math/rand"

	"chaos-harness/internal/config"
	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
)

// Mixed builds a read-heavy workload with a reserved writer pool: the first
// cfg.Writers actors write fresh values round-robin across the keyspace
// while every other actor reads random keys. The workload exhausts after
// cfg.Keys times cfg.OpsPerKey operations.
func Mixed(cfg *config.WorkloadConfig, kv KV) *Workload {
	values := &Counter{}
	keyTurn := &Counter{}

	writes := gen.Each(func() (history.Op, bool) {
		k := int((keyTurn.Next() - 1) % int64(cfg.Keys))
		return history.Op{F: FWrite, Value: gen.Keyed{Key: k, Value: values.Next()}}, true
	})
	reads := gen.Func(func(ctx context.Context, c *gen.Context, a history.Actor) (history.Op, error) {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		return history.Op{F: FRead, Value: gen.Keyed{Key: rand.Intn(cfg.Keys)}}, nil
	})

	total := cfg.Keys * cfg.OpsPerKey
	var root gen.Generator = gen.Limit(total, gen.Reserve(cfg.Writers, writes, reads))
	if cfg.Interval > 0 {
		root = gen.Stagger(cfg.Interval, root)
	}
	return &Workload{
		Name:      "mixed",
		Generator: root,
		Client:    &kvClient{kv: kv},
	}
}
