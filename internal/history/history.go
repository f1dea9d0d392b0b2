package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrLifecycle is returned when an append would break the per-actor
// operation lifecycle. A violation always indicates a scheduling bug, so
// callers treat it as fatal.
var ErrLifecycle = errors.New("operation lifecycle violation")

// History is the append-only operation log for one run. Appends are
// serialized and validated: each actor has at most one outstanding
// invocation, and every completion must match it. Readers receive copies,
// never the backing slice.
type History struct {
	mu      sync.RWMutex
	ops     []Op
	pending map[Actor]Op
	start   time.Time
	end     time.Time
}

// New returns an empty history.
func New() *History {
	return &History{
		pending: make(map[Actor]Op),
	}
}

// Append validates op against the actor lifecycle, assigns its index and
// records it. The stored op is returned.
func (h *History) Append(op Op) (Op, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch op.Type {
	case Invoke:
		if prev, ok := h.pending[op.Actor]; ok {
			return Op{}, fmt.Errorf("%w: %s invoked %q while %q is outstanding",
				ErrLifecycle, op.Actor, op.F, prev.F)
		}
		h.pending[op.Actor] = op
	case OK, Fail, Info:
		prev, ok := h.pending[op.Actor]
		if !ok {
			return Op{}, fmt.Errorf("%w: %s completed %q with no outstanding invocation",
				ErrLifecycle, op.Actor, op.F)
		}
		if prev.F != op.F {
			return Op{}, fmt.Errorf("%w: %s completed %q but %q is outstanding",
				ErrLifecycle, op.Actor, op.F, prev.F)
		}
		delete(h.pending, op.Actor)
	default:
		return Op{}, fmt.Errorf("%w: unknown op type %q", ErrLifecycle, op.Type)
	}

	op.Index = len(h.ops)
	h.ops = append(h.ops, op)

	if h.start.IsZero() || op.Time.Before(h.start) {
		h.start = op.Time
	}
	if op.Time.After(h.end) {
		h.end = op.Time
	}
	return op, nil
}

// Ops returns a copy of the recorded operations in append order.
func (h *History) Ops() []Op {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Op, len(h.ops))
	copy(out, h.ops)
	return out
}

// Len returns the number of recorded operations.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ops)
}

// PendingCount returns the number of actors with an outstanding invocation.
func (h *History) PendingCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending)
}

// Pending returns the outstanding invocations, ordered by actor.
func (h *History) Pending() []Op {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Op, 0, len(h.pending))
	for _, op := range h.pending {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

// Start returns the timestamp of the earliest recorded op.
func (h *History) Start() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.start
}

// End returns the timestamp of the latest recorded op.
func (h *History) End() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.end
}

// Duration returns the observed time span of the history.
func (h *History) Duration() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.start.IsZero() {
		return 0
	}
	return h.end.Sub(h.start)
}

// ByActor returns the ops recorded for one actor, in order.
func (h *History) ByActor(a Actor) []Op {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Op
	for _, op := range h.ops {
		if op.Actor == a {
			out = append(out, op)
		}
	}
	return out
}

// Completions returns only the completion ops, in order.
func (h *History) Completions() []Op {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Op
	for _, op := range h.ops {
		if op.IsCompletion() {
			out = append(out, op)
		}
	}
	return out
}
