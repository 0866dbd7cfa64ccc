package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/config"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/fetch"
	"github.com/johndauphine/drt/internal/fixer"
	"github.com/johndauphine/drt/internal/logging"
	"github.com/johndauphine/drt/internal/partition"
	"github.com/johndauphine/drt/internal/progress"
	"github.com/johndauphine/drt/internal/report"
	"github.com/johndauphine/drt/internal/scheduler"
	"github.com/johndauphine/drt/internal/state"
	"github.com/johndauphine/drt/internal/util"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "reconcile",
		Usage:   "Partition-driven reconciliation of a table across database engines",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable verbose debug output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Reconcile the configured partitions",
				Action: runReconcile,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Cap rows fetched per partition per side (results are partial)",
					},
					&cli.BoolFlag{
						Name:  "output-mismatches",
						Usage: "Stream mismatches as CSV to stdout instead of the destination table",
					},
					&cli.StringFlag{
						Name:  "record",
						Usage: "Reconcile only the given primary key value(s), comma-separated",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Override the configured worker count",
					},
				},
			},
			{
				Name:   "apply-fixes",
				Usage:  "Apply targeted column updates for previously reported mismatches",
				Action: runApplyFixes,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "partition",
						Usage: "Restrict to one partition (YYYY-MM)",
					},
					&cli.BoolFlag{
						Name:  "apply",
						Usage: "Execute updates",
					},
					&cli.BoolFlag{
						Name:  "no-dry-run",
						Usage: "Disable dry run",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List reconciliation runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
				},
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig loads the config and applies the debug level. Credentials are
// resolved through the process environment here, at the boundary; the core
// never reads environment state itself.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if c.Bool("debug") {
		logging.SetLevel(logging.LevelHigh)
	} else {
		logging.SetLevel(logging.ParseLevel(cfg.Debug))
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted.")
		cancel()
	}()
	return ctx, cancel
}

func runReconcile(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	parts, err := partition.Plan(cfg.Partitioning)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	srcPool, err := engine.Open(ctx, "source", cfg.Source.Type,
		engine.ParamsFrom(cfg.Source.Resolved), cfg.Source.MaxConnections)
	if err != nil {
		return fmt.Errorf("connecting to source: %w", err)
	}
	defer srcPool.Close()

	dstPool, err := engine.Open(ctx, "destination", cfg.Destination.Type,
		engine.ParamsFrom(cfg.Destination.Resolved), cfg.Destination.MaxConnections)
	if err != nil {
		return fmt.Errorf("connecting to destination: %w", err)
	}
	defer dstPool.Close()

	source := fetch.New(srcPool, compare.SideSource, &cfg.Source, cfg.PrimaryKey, cfg.Partitioning)
	dest := fetch.New(dstPool, compare.SideDestination, &cfg.Destination, cfg.PrimaryKey, cfg.Partitioning)

	var sink report.Sink
	if c.Bool("output-mismatches") || cfg.Output.Format == "csv" {
		sink = report.NewStreamSink(os.Stdout)
	} else {
		tableSink := report.NewTableSink(dstPool.DB, dstPool.Dialect, cfg.Output.Schema, cfg.Output.Table)
		if err := tableSink.Init(ctx, parts, cfg.Output.Retention == "truncate"); err != nil {
			return err
		}
		sink = tableSink
	}

	workers, err := cfg.WorkerCount()
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		workers = c.Int("workers")
	}
	fetchTimeout, err := cfg.FetchTimeout()
	if err != nil {
		return err
	}

	policy := scheduler.Policy{
		Parallel:     cfg.Comparison.Parallel,
		Workers:      workers,
		Mode:         cfg.Comparison.ParallelMode,
		Limit:        c.Int("limit"),
		Records:      util.SplitCSV(c.String("record")),
		FetchTimeout: fetchTimeout,
	}
	cmpOpts := compare.Options{
		Columns:           cfg.Source.Columns.Names(),
		UseRowHash:        cfg.Comparison.UseRowHash,
		IncludeNulls:      cfg.IncludeNulls(),
		AggressiveCleanup: cfg.Comparison.AggressiveMemoryCleanup,
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := state.NewRunID()
	if err := store.CreateRun(runID, "reconcile"); err != nil {
		return err
	}
	logging.DebugAt(logging.LevelLow, "run %s: %d partitions", runID, len(parts))

	tracker := progress.New()
	if len(policy.Records) > 0 {
		tracker.SetTotal(1)
	} else {
		tracker.SetTotal(int64(len(parts)))
	}

	sched := scheduler.New(source, dest, cmpOpts, policy)
	var sum scheduler.Summary
	var reportErr error
	for res := range sched.Run(ctx, parts) {
		sum.Add(res)
		tracker.Step(res.Descriptor.Label())
		if err := store.SavePartition(runID, res); err != nil {
			logging.Warn("recording partition %s: %v", res.Descriptor.Label(), err)
		}
		if res.Err != nil {
			continue
		}
		for _, o := range res.Outcomes {
			if o.Kind == compare.Match {
				continue
			}
			if err := sink.Report(ctx, report.FromOutcome(res.Descriptor, o)); err != nil {
				reportErr = err
			}
		}
	}
	if err := sink.Close(ctx); err != nil && reportErr == nil {
		reportErr = err
	}
	tracker.Finish()

	fmt.Print(sum.String())

	status := "success"
	var errMsg string
	switch {
	case reportErr != nil:
		status, errMsg = "failed", reportErr.Error()
	case sum.Failed():
		status, errMsg = "failed", fmt.Sprintf("%d partitions failed", sum.FailedParts)
	}
	if err := store.CompleteRun(runID, status, errMsg, &sum); err != nil {
		logging.Warn("recording run completion: %v", err)
	}

	if reportErr != nil {
		return fmt.Errorf("reporting mismatches: %w", reportErr)
	}
	if sum.Failed() {
		return cli.Exit(fmt.Sprintf("%d of %d partitions failed", sum.FailedParts, sum.Partitions), 1)
	}
	if cfg.Strict && sum.PartialParts > 0 {
		return cli.Exit("partial results under strict mode", 1)
	}
	return nil
}

func runApplyFixes(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Output.Format != "table" {
		return cli.Exit("apply-fixes requires output.format: table (a persisted mismatch table)", 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dstPool, err := engine.Open(ctx, "destination", cfg.Destination.Type,
		engine.ParamsFrom(cfg.Destination.Resolved), cfg.Destination.MaxConnections)
	if err != nil {
		return fmt.Errorf("connecting to destination: %w", err)
	}
	defer dstPool.Close()

	opts := fixer.Options{
		DryRun:    cfg.DryRun(),
		SkipNulls: cfg.SkipNulls(),
		Out:       os.Stdout,
	}
	if c.Bool("apply") || c.Bool("no-dry-run") {
		opts.DryRun = false
	}
	if p := c.String("partition"); p != "" {
		d, err := parsePartitionFlag(p)
		if err != nil {
			return err
		}
		opts.Partition = d
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := state.NewRunID()
	if err := store.CreateRun(runID, "apply-fixes"); err != nil {
		return err
	}

	applier := fixer.New(dstPool.DB, dstPool.Dialect, &cfg.Destination, cfg.Output, cfg.PrimaryKey, cfg.Partitioning)
	sum, err := applier.Run(ctx, opts)
	if err != nil {
		store.CompleteRun(runID, "failed", err.Error(), nil)
		return err
	}
	sum.Render(os.Stdout)

	status := "success"
	var errMsg string
	if sum.Errored() {
		status = "failed"
		errMsg = "one or more fix actions failed"
	}
	if err := store.CompleteRun(runID, status, errMsg, nil); err != nil {
		logging.Warn("recording run completion: %v", err)
	}
	if sum.Errored() {
		return cli.Exit("one or more fix actions failed", 1)
	}
	return nil
}

func parsePartitionFlag(s string) (*partition.Descriptor, error) {
	fields := strings.SplitN(s, "-", 2)
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return nil, fmt.Errorf("invalid partition %q, expected YYYY-MM", s)
	}
	return &partition.Descriptor{Year: fields[0], Month: util.PadMonth(fields[1])}, nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		run, parts, err := store.RunDetails(runID)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s (%s) started %s status=%s\n", run.ID, run.Mode,
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Status)
		for _, p := range parts {
			flag := ""
			if p.Partial {
				flag = " [partial]"
			}
			fmt.Printf("  %-14s %-8s src=%d dst=%d match=%d mismatch=%d miss_src=%d miss_dst=%d%s %s\n",
				p.Label, p.Status, p.SourceRows, p.DestRows, p.Matched,
				p.Mismatched, p.MissingSource, p.MissingDest, flag, p.Error)
		}
		return nil
	}

	runs, err := store.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-11s %-8s parts=%d failed=%d mismatched=%d  %s\n",
			r.ID, r.Mode, r.Status, r.Partitions, r.FailedParts, r.Mismatched,
			r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
