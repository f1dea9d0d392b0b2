package gen

import (
	"context"
	"sync"

	"chaos-harness/internal/history"
)

// Keyed is the value carried by operations emitted from Independent: the
// key the sub-schedule is bound to, plus the sub-generator's own value.
type Keyed struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

// Keys returns a key source that yields each value once, in order.
func Keys(keys ...any) func() (any, bool) {
	var mu sync.Mutex
	i := 0
	return func() (any, bool) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(keys) {
			return nil, false
		}
		k := keys[i]
		i++
		return k, true
	}
}

// IntKeys returns an unbounded key source yielding 0, 1, 2, ...
func IntKeys() func() (any, bool) {
	var mu sync.Mutex
	next := 0
	return func() (any, bool) {
		mu.Lock()
		defer mu.Unlock()
		k := next
		next++
		return k, true
	}
}

// Independent runs an isolated sub-schedule per key. Actors are split into
// groups of perKey; each group works one key's sub-generator until it
// exhausts, then takes the next key from keys. The number of keys in flight
// is therefore capped by the actor count divided by perKey. Emitted values
// are wrapped in Keyed; completions are unwrapped and routed back to the
// owning sub-generator. Keys must be comparable values.
func Independent(keys func() (any, bool), sub func(key any) Generator, perKey int) Generator {
	if perKey < 1 {
		perKey = 1
	}
	return &independentGen{
		keys:   keys,
		sub:    sub,
		perKey: perKey,
		groups: make(map[int]*keyState),
	}
}

type keyState struct {
	key any
	gen Generator
}

type independentGen struct {
	mu     sync.Mutex
	keys   func() (any, bool)
	sub    func(key any) Generator
	perKey int
	groups map[int]*keyState
}

func (g *independentGen) group(actor history.Actor) int {
	return int(actor) / g.perKey
}

// current returns the group's active sub-generator, allocating the next key
// if the group has none. It returns nil when the key source is drained.
func (g *independentGen) current(grp int) *keyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ks, ok := g.groups[grp]; ok {
		return ks
	}
	key, ok := g.keys()
	if !ok {
		return nil
	}
	ks := &keyState{key: key, gen: g.sub(key)}
	g.groups[grp] = ks
	return ks
}

// retire removes the group's sub-generator if it is still the given one.
func (g *independentGen) retire(grp int, ks *keyState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.groups[grp] == ks {
		delete(g.groups, grp)
	}
}

func (g *independentGen) Next(ctx context.Context, c *Context, actor history.Actor) (history.Op, error) {
	if actor < 0 {
		return history.Op{}, ErrExhausted
	}
	grp := g.group(actor)
	for {
		if err := ctx.Err(); err != nil {
			return history.Op{}, err
		}
		ks := g.current(grp)
		if ks == nil {
			return history.Op{}, ErrExhausted
		}
		op, err := ks.gen.Next(ctx, c, actor)
		if err == nil {
			return op.WithValue(Keyed{Key: ks.key, Value: op.Value}), nil
		}
		if fatal(err) {
			return history.Op{}, err
		}
		g.retire(grp, ks)
	}
}

func (g *independentGen) Update(c *Context, op history.Op) {
	if op.Actor < 0 {
		return
	}
	kv, ok := op.Value.(Keyed)
	if !ok {
		return
	}
	g.mu.Lock()
	ks := g.groups[g.group(op.Actor)]
	g.mu.Unlock()
	if ks == nil || ks.key != kv.Key {
		return
	}
	update(ks.gen, c, op.WithValue(kv.Value))
}
