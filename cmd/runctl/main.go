package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chaos-harness/internal/config"
	"chaos-harness/internal/logging"
	"chaos-harness/internal/store"
	"chaos-harness/internal/web"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	jsonOutput = flag.Bool("json", false, "Output in JSON format")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	archive, err := store.Open(&cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer archive.Close()

	switch args[0] {
	case "list":
		handleList(archive)
	case "show":
		handleShow(archive, args[1:])
	case "history":
		handleHistory(archive, args[1:])
	case "perf":
		handlePerf(archive, args[1:])
	case "rm":
		handleRm(archive, args[1:])
	case "serve":
		handleServe(cfg, archive)
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func handleList(archive *store.Archive) {
	runs, err := archive.ListRuns()
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}

	if *jsonOutput {
		outputJSON(runs)
		return
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs.")
		return
	}
	fmt.Printf("%-36s  %-20s  %6s  %10s  %-8s  %s\n", "ID", "NAME", "OPS", "DURATION", "STATUS", "SAVED")
	for _, r := range runs {
		status := "ok"
		if r.Error != "" {
			status = "aborted"
		}
		fmt.Printf("%-36s  %-20s  %6d  %10s  %-8s  %s\n",
			r.ID, r.Name, r.Ops, r.Duration.Round(time.Millisecond), status,
			r.SavedAt.Format(time.RFC3339))
	}
}

func handleShow(archive *store.Archive, args []string) {
	id := requireID(args, "show")
	meta, err := archive.GetRun(id)
	if err != nil {
		exitNotFound(id, err)
	}

	if *jsonOutput {
		outputJSON(meta)
		return
	}
	fmt.Printf("ID:        %s\n", meta.ID)
	fmt.Printf("Name:      %s\n", meta.Name)
	fmt.Printf("Start:     %s\n", meta.Start.Format(time.RFC3339))
	fmt.Printf("Duration:  %s\n", meta.Duration.Round(time.Millisecond))
	fmt.Printf("Ops:       %d\n", meta.Ops)
	fmt.Printf("Saved:     %s\n", meta.SavedAt.Format(time.RFC3339))
	if meta.Error != "" {
		fmt.Printf("Error:     %s\n", meta.Error)
	}
}

func handleHistory(archive *store.Archive, args []string) {
	id := requireID(args, "history")
	ops, err := archive.History(id)
	if err != nil {
		exitNotFound(id, err)
	}

	if *jsonOutput {
		outputJSON(ops)
		return
	}
	if len(ops) == 0 {
		fmt.Println("Empty history.")
		return
	}
	start := ops[0].Time
	for _, op := range ops {
		line := fmt.Sprintf("%5d  %9.3fs  %-10s  %-6s  %-12s  %v",
			op.Index, op.Time.Sub(start).Seconds(), op.Actor, op.Type, op.F, op.Value)
		if op.Error != "" {
			line += "  error=" + op.Error
		}
		fmt.Println(line)
	}
}

func handlePerf(archive *store.Archive, args []string) {
	id := requireID(args, "perf")
	report, err := archive.Report(id)
	if err != nil {
		exitNotFound(id, err)
	}

	if *jsonOutput {
		outputJSON(report)
		return
	}
	if report.NoData {
		fmt.Println("No performance data recorded.")
		return
	}
	fmt.Printf("Duration: %.1fs, window: %.1fs\n", report.Duration, report.Window)
	for _, s := range report.Latency {
		fmt.Printf("latency  %-24s  %d points\n", s.Label, len(s.Points))
	}
	for _, s := range report.Rate {
		fmt.Printf("rate     %-24s  %d points\n", s.Label, len(s.Points))
	}
	for _, region := range report.Regions {
		for _, iv := range region.Intervals {
			if iv.Stop != nil {
				fmt.Printf("fault    %-24s  %.1fs - %.1fs\n", region.Category, iv.Start, *iv.Stop)
			} else {
				fmt.Printf("fault    %-24s  %.1fs - end\n", region.Category, iv.Start)
			}
		}
	}
	for _, v := range report.Violations {
		fmt.Printf("VIOLATION %s at %.1fs: %s\n", v.Category, v.T, v.Msg)
	}
}

func handleRm(archive *store.Archive, args []string) {
	id := requireID(args, "rm")
	if err := archive.DeleteRun(id); err != nil {
		exitNotFound(id, err)
	}
	fmt.Printf("Deleted run %s\n", id)
}

func handleServe(cfg *config.Config, archive *store.Archive) {
	logger := logging.NewLogger(&cfg.Logging)
	srv := web.NewServer(archive, logger, &cfg.Web)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Fatalf("Shutdown failed: %v", err)
		}
	}
}

func requireID(args []string, command string) string {
	if len(args) < 1 {
		fmt.Printf("Usage: %s <run-id>\n", command)
		os.Exit(1)
	}
	return args[0]
}

func exitNotFound(id string, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		fmt.Printf("Run not found: %s\n", id)
	} else {
		fmt.Printf("Error: %v\n", err)
	}
	os.Exit(1)
}

func outputJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal JSON: %v", err)
	}
	fmt.Println(string(data))
}

func printUsage() {
	fmt.Printf(`runctl - Chaos Harness Run Archive CLI

Usage:
  %s [options] <command> [args...]

Options:
  -config string
        Path to configuration file (built-in defaults when empty)
  -json Output in JSON format

Commands:
  list
        List archived runs, newest first
  show <run-id>
        Show one run's metadata
  history <run-id>
        Dump one run's operation history
  perf <run-id>
        Summarize one run's performance report
  rm <run-id>
        Delete an archived run
  serve
        Serve the archive over HTTP

Examples:
  %s list
  %s -json perf 3f1c9a42-6d70-4f9e-8e2a-0c9f6d1b2a34
  %s serve
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
