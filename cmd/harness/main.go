package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chaos-harness/internal/config"
	"chaos-harness/internal/control"
	"chaos-harness/internal/gen"
	"chaos-harness/internal/logging"
	"chaos-harness/internal/nemesis"
	"chaos-harness/internal/perf"
	"chaos-harness/internal/store"
	"chaos-harness/internal/target"
	"chaos-harness/internal/workload"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	seed       = flag.Int64("seed", 0, "Override the schedule seed (0 keeps the configured one)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *seed != 0 {
		cfg.Test.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// run assembles the harness from the configuration, drives the test, and
// archives whatever history it produced, aborted or not.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(&cfg.Logging)

	seed := cfg.Test.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Info("Seeding schedule", "seed", seed)

	clock := gen.RealClock{}
	cluster := target.NewSimCluster(cfg.Test.Nodes, clock, seed)

	w, err := workload.Build(&cfg.Workload, cluster)
	if err != nil {
		return fmt.Errorf("build workload: %w", err)
	}

	opts := nemesis.Options{
		Kill:      cfg.Nemesis.Kill,
		Pause:     cfg.Nemesis.Pause,
		Partition: cfg.Nemesis.Partition,
		Clock:     cfg.Nemesis.Clock,
		Sched:     cfg.Nemesis.Sched,
		Interval:  cfg.Nemesis.Interval,
		Mode:      cfg.Nemesis.Mode,
	}
	var sched *nemesis.Schedule
	if cfg.Nemesis.LongRecovery {
		sched, err = nemesis.LongRecovery(cluster, opts)
	} else {
		sched, err = nemesis.Build(cluster, opts)
	}
	if err != nil {
		return fmt.Errorf("build fault schedule: %w", err)
	}

	runner, err := control.New(&control.Test{
		Name:     cfg.Test.Name,
		Actors:   cfg.Test.Actors,
		Nodes:    cfg.Test.Nodes,
		Limit:    cfg.Test.TimeLimit,
		Clock:    clock,
		Logger:   logger,
		Workload: w,
		Schedule: sched,
	})
	if err != nil {
		return err
	}

	res, runErr := runner.Run(ctx)
	if res == nil {
		return runErr
	}

	report := perf.Analyze(res.History, sched.FaultSpecs(), perf.DefaultOptions())

	archive, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	meta := store.RunMeta{
		Name:     res.Name,
		Start:    res.Start,
		Duration: res.Duration,
	}
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	saved, err := archive.SaveRun(meta, res.History.Ops(), report)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}

	logger.Info("Run archived", "run_id", saved.ID, "ops", saved.Ops)
	fmt.Printf("run %s archived (%d ops, %s)\n", saved.ID, saved.Ops, res.Duration.Round(time.Millisecond))
	return runErr
}
