package nemesis

import (
	"errors"
	"math/rand"
	"sort"

	"chaos-harness/internal/history"
	"chaos-harness/internal/target"
)

// randomSubset picks a non-empty subset of nodes, so faults hit some of
// the cluster rather than all of it by default.
func randomSubset(nodes []string) []string {
	if len(nodes) == 0 {
		return nil
	}
	shuffled := make([]string, len(nodes))
	copy(shuffled, nodes)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	k := 1 + rand.Intn(len(shuffled))
	picked := shuffled[:k]
	sort.Strings(picked)
	return picked
}

// randomSplit cuts nodes into two non-empty sides. Clusters of one node
// cannot be split and return a single side.
func randomSplit(nodes []string) [][]string {
	if len(nodes) < 2 {
		return [][]string{nodes}
	}
	shuffled := make([]string, len(nodes))
	copy(shuffled, nodes)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	cut := 1 + rand.Intn(len(shuffled)-1)
	return [][]string{shuffled[:cut], shuffled[cut:]}
}

// nodeResults builds the per-node result value completions carry.
func nodeResults(nodes []string, verb string) map[string]string {
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		out[n] = verb
	}
	return out
}

// completeError turns a control-surface failure into a completion. Only
// failures known not to have applied complete Fail; everything else is
// indeterminate and completes Info.
func completeError(op history.Op, err error) history.Op {
	t := history.Info
	if errors.Is(err, target.ErrUnknownNode) {
		t = history.Fail
	}
	return op.Completed(t).WithError(err)
}

// sortedKeys returns the keys of set in sorted order.
func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
