// Package history defines the operation stream shared by workload actors and
// the fault injector. Every run produces a single append-only history of
// operations; checkers and the perf analyzer consume it read-only.
package history

import (
	"fmt"
	"time"
)

// OpType marks where an operation is in its lifecycle.
type OpType string

const (
	// Invoke records the start of an operation.
	Invoke OpType = "invoke"
	// OK records a completion whose effect is known to have applied.
	OK OpType = "ok"
	// Fail records a completion whose effect is known not to have applied.
	Fail OpType = "fail"
	// Info records a completion with indeterminate outcome.
	Info OpType = "info"
)

// Valid reports whether t is one of the four lifecycle types.
func (t OpType) Valid() bool {
	switch t {
	case Invoke, OK, Fail, Info:
		return true
	}
	return false
}

// Actor identifies the logical thread an operation belongs to. Workload
// actors are numbered from zero; fault operations use the Nemesis sentinel.
type Actor int

// Nemesis is the reserved actor for fault injection operations.
const Nemesis Actor = -1

func (a Actor) String() string {
	if a == Nemesis {
		return "nemesis"
	}
	return fmt.Sprintf("worker-%d", int(a))
}

// F names the function an operation performs, such as a workload tag
// ("read", "write") or a fault tag ("kill", "restart").
type F string

// Op is a single entry in the operation stream. Value is op-specific and
// must be JSON-marshalable so histories can be archived.
type Op struct {
	Index int       `json:"index"`
	Actor Actor     `json:"actor"`
	F     F         `json:"f"`
	Value any       `json:"value,omitempty"`
	Type  OpType    `json:"type"`
	Time  time.Time `json:"time"`
	Error string    `json:"error,omitempty"`
}

// IsInvoke reports whether the op starts an operation.
func (o Op) IsInvoke() bool {
	return o.Type == Invoke
}

// IsCompletion reports whether the op ends an operation.
func (o Op) IsCompletion() bool {
	return o.Type == OK || o.Type == Fail || o.Type == Info
}

// Completed returns a completion for an invocation, copying its identity
// fields and replacing the lifecycle type.
func (o Op) Completed(t OpType) Op {
	done := o
	done.Type = t
	done.Error = ""
	return done
}

// WithValue returns a copy of the op carrying v.
func (o Op) WithValue(v any) Op {
	o.Value = v
	return o
}

// WithError returns a copy of the op carrying the error text.
func (o Op) WithError(err error) Op {
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s %s value=%v", o.Actor, o.Type, o.F, o.Value)
}
