package workload

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Counter hands out unique int64 values starting from one. Each workload
// owns its counters; nothing outside the owning generator reads them.
type Counter struct {
	n atomic.Int64
}

// Next returns the next value.
func (c *Counter) Next() int64 {
	return c.n.Add(1)
}

// LastWritten is a fixed-size ring of recently written values. The write
// generator records into it; the compare-and-set generator draws expected
// values from it so a fair share of attempts match the register.
type LastWritten struct {
	mu   sync.Mutex
	vals []int64
	next int
	size int
}

// NewLastWritten returns a ring holding the last size values.
func NewLastWritten(size int) *LastWritten {
	if size < 1 {
		size = 1
	}
	return &LastWritten{vals: make([]int64, 0, size), size: size}
}

// Record remembers v, evicting the oldest value once the ring is full.
func (l *LastWritten) Record(v int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.vals) < l.size {
		l.vals = append(l.vals, v)
		return
	}
	l.vals[l.next] = v
	l.next = (l.next + 1) % l.size
}

// Pick returns a uniformly chosen remembered value, or false before any
// value has been recorded.
func (l *LastWritten) Pick() (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.vals) == 0 {
		return 0, false
	}
	return l.vals[rand.Intn(len(l.vals))], true
}
