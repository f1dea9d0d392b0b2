package nemesis

import (
	"fmt"
	"time"

	"chaos-harness/internal/gen"
	"chaos-harness/internal/history"
	"chaos-harness/internal/perf"
	"chaos-harness/internal/target"
)

// Schedule modes.
const (
	ModeRandom = "random"
	ModeFixed  = "fixed"
)

// DefaultInterval spaces fault operations when none is configured.
const DefaultInterval = 15 * time.Second

// Options is the enablement map for one run's fault schedule.
type Options struct {
	Kill      bool
	Pause     bool
	Partition bool
	Clock     bool
	Sched     bool
	Interval  time.Duration
	Mode      string
}

// Package bundles everything one fault category contributes to a run:
// its handler, its ongoing start/stop cadence, the cleanup operations
// that close it out, and its shape in the perf report.
type Package struct {
	Name      string
	Handler   Handler
	Generator gen.Generator
	FinalOps  []history.Op
	Perf      perf.FaultSpec
}

// Schedule is the assembled nemesis plan: one composite handler, one
// ongoing generator, and a deterministic cleanup sequence covering every
// enabled category whether or not it ever fired.
type Schedule struct {
	packages []Package
	handler  Handler
	ongoing  gen.Generator
}

// Build assembles the enabled categories into a schedule. Each category's
// flip-flop alternates its start and stop operations; the flip-flops are
// mixed and the mix is paced by the schedule mode: randomized delays
// averaging the interval for ModeRandom, exact spacing for ModeFixed.
// With nothing enabled the ongoing generator is exhausted immediately.
func Build(cluster target.Cluster, opts Options) (*Schedule, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var pkgs []Package
	nodes := cluster.Nodes()
	if opts.Kill {
		pkgs = append(pkgs, killPackage(cluster, nodes))
	}
	if opts.Pause {
		pkgs = append(pkgs, pausePackage(cluster, nodes))
	}
	if opts.Partition {
		pkgs = append(pkgs, partitionPackage(cluster, nodes))
	}
	if opts.Clock {
		pkgs = append(pkgs, clockPackage(cluster, nodes))
	}
	if opts.Sched {
		pkgs = append(pkgs, schedPackage(cluster, nodes))
	}

	var ongoing gen.Generator
	if len(pkgs) == 0 {
		ongoing = gen.Done()
	} else {
		flips := make([]gen.Generator, len(pkgs))
		for i, p := range pkgs {
			flips[i] = p.Generator
		}
		mixed := gen.Mix(flips...)
		switch opts.Mode {
		case ModeRandom, "":
			ongoing = gen.Stagger(interval, mixed)
		case ModeFixed:
			ongoing = gen.FixedDelay(interval, mixed)
		default:
			return nil, fmt.Errorf("unknown schedule mode %q", opts.Mode)
		}
	}

	return assemble(pkgs, ongoing)
}

// LongRecovery is the special-case schedule for recovery testing: the
// first enabled category fires once, holds for a long window, then heals,
// leaving the rest of the run fault-free to watch the system recover.
// Every other enabled category still contributes its handler and cleanup
// operation, so the schedule meets the same cleanup contract as Build's.
func LongRecovery(cluster target.Cluster, opts Options) (*Schedule, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	built, err := Build(cluster, opts)
	if err != nil {
		return nil, err
	}
	if len(built.packages) == 0 {
		return built, nil
	}

	lead := built.packages[0]
	window := 10 * interval
	ongoing := gen.Phases(
		gen.Sleep(interval),
		gen.FromOps(history.Op{F: lead.Perf.Start[0]}),
		gen.Sleep(window),
		gen.FromOps(lead.FinalOps...),
	)

	return assemble(built.packages, ongoing)
}

func assemble(pkgs []Package, ongoing gen.Generator) (*Schedule, error) {
	handlers := make([]Handler, len(pkgs))
	for i, p := range pkgs {
		handlers[i] = p.Handler
	}
	composite, err := Compose(handlers...)
	if err != nil {
		return nil, err
	}

	s := &Schedule{
		packages: pkgs,
		handler:  composite,
		ongoing:  ongoing,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the composite handler covering every enabled category.
func (s *Schedule) Handler() Handler {
	return s.handler
}

// Ongoing returns the generator that drives faults during the run.
func (s *Schedule) Ongoing() gen.Generator {
	return s.ongoing
}

// Final returns a fresh cleanup generator: exactly one stop operation per
// enabled category, in enablement order. Callers may pull it more than
// once over the schedule's life; each call restarts the sequence.
func (s *Schedule) Final() gen.Generator {
	var ops []history.Op
	for _, p := range s.packages {
		ops = append(ops, p.FinalOps...)
	}
	return gen.FromOps(ops...)
}

// FaultSpecs describes the enabled categories for the perf analyzer.
func (s *Schedule) FaultSpecs() []perf.FaultSpec {
	specs := make([]perf.FaultSpec, 0, len(s.packages))
	for _, p := range s.packages {
		specs = append(specs, p.Perf)
	}
	return specs
}

// Categories lists the enabled category names in enablement order.
func (s *Schedule) Categories() []string {
	names := make([]string, 0, len(s.packages))
	for _, p := range s.packages {
		names = append(names, p.Name)
	}
	return names
}

// Validate checks the cleanup contract every schedule must meet, hand
// built or not: each enabled category contributes exactly one final
// operation, tagged with one of that category's stop functions.
func (s *Schedule) Validate() error {
	for _, p := range s.packages {
		if p.Name == "" {
			return fmt.Errorf("fault package with empty name")
		}
		if p.Handler == nil {
			return fmt.Errorf("fault package %q has no handler", p.Name)
		}
		if p.Generator == nil {
			return fmt.Errorf("fault package %q has no generator", p.Name)
		}
		if len(p.FinalOps) != 1 {
			return fmt.Errorf("fault package %q must contribute exactly one cleanup op, has %d",
				p.Name, len(p.FinalOps))
		}
		stop := p.FinalOps[0].F
		ok := false
		for _, f := range p.Perf.Stop {
			if f == stop {
				ok = true
			}
		}
		if !ok {
			return fmt.Errorf("fault package %q cleanup op %q is not one of its stop tags %v",
				p.Name, stop, p.Perf.Stop)
		}
	}
	return nil
}

func killPackage(proc target.ProcessControl, nodes []string) Package {
	return Package{
		Name:      "kill",
		Handler:   NewKiller(proc, nodes),
		Generator: gen.FlipFlop(gen.Repeat(history.Op{F: FKill}), gen.Repeat(history.Op{F: FRestart})),
		FinalOps:  []history.Op{{F: FRestart}},
		Perf: perf.FaultSpec{
			Category: "kill",
			Start:    []history.F{FKill},
			Stop:     []history.F{FRestart},
			FillHint: "#E9A4A0",
		},
	}
}

func pausePackage(proc target.ProcessControl, nodes []string) Package {
	return Package{
		Name:      "pause",
		Handler:   NewPauser(proc, nodes),
		Generator: gen.FlipFlop(gen.Repeat(history.Op{F: FPause}), gen.Repeat(history.Op{F: FResume})),
		FinalOps:  []history.Op{{F: FResume}},
		Perf: perf.FaultSpec{
			Category: "pause",
			Start:    []history.F{FPause},
			Stop:     []history.F{FResume},
			FillHint: "#A0B2E9",
		},
	}
}

func partitionPackage(net target.NetworkControl, nodes []string) Package {
	return Package{
		Name:      "partition",
		Handler:   NewPartitioner(net, nodes),
		Generator: gen.FlipFlop(gen.Repeat(history.Op{F: FStartPart}), gen.Repeat(history.Op{F: FStopPart})),
		FinalOps:  []history.Op{{F: FStopPart}},
		Perf: perf.FaultSpec{
			Category: "partition",
			Start:    []history.F{FStartPart},
			Stop:     []history.F{FStopPart},
			FillHint: "#A0E9E3",
		},
	}
}

// clockPackage's flip-flop has four phases: bump, reset, strobe, reset,
// so both skew styles fire and each is healed before the other begins.
func clockPackage(clocks target.ClockControl, nodes []string) Package {
	return Package{
		Name:    "clock",
		Handler: NewClockSkew(clocks, nodes),
		Generator: gen.FlipFlop(
			gen.Repeat(history.Op{F: FBumpClock}),
			gen.Repeat(history.Op{F: FResetClock}),
			gen.Repeat(history.Op{F: FStrobeClock}),
			gen.Repeat(history.Op{F: FResetClock}),
		),
		FinalOps: []history.Op{{F: FResetClock}},
		Perf: perf.FaultSpec{
			Category: "clock",
			Start:    []history.F{FBumpClock, FStrobeClock},
			Stop:     []history.F{FResetClock},
			FillHint: "#E9E3A0",
		},
	}
}

func schedPackage(sched target.SchedControl, nodes []string) Package {
	return Package{
		Name:      "sched",
		Handler:   NewSchedStress(sched, nodes),
		Generator: gen.FlipFlop(gen.Repeat(history.Op{F: FStressSched}), gen.Repeat(history.Op{F: FResetSched})),
		FinalOps:  []history.Op{{F: FResetSched}},
		Perf: perf.FaultSpec{
			Category: "sched",
			Start:    []history.F{FStressSched},
			Stop:     []history.F{FResetSched},
			FillHint: "#D2A0E9",
		},
	}
}
