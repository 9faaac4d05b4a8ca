package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/app"
	"github.com/jonathan/golden-record/internal/observability"
	"github.com/jonathan/golden-record/internal/pipeline"
	"github.com/jonathan/golden-record/internal/samples"
	"github.com/jonathan/golden-record/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Resolve a batch of work items and print the results",
	Long: `Enqueues work items from a YAML item file (--items) or generated samples (--samples),
drains the queue once and prints every resulting record.

Queued items and history are persisted to the configured backend, so an interrupted
run can be inspected with "history" and resumed with another "run".`,
	RunE: runBatchCmd,
}

var (
	runItemsPath string
	runSamples   int
	runSeed      uint64
	runMode      string
	runDelay     time.Duration
	runVerbose   bool
)

func init() {
	runCommand.Flags().StringVarP(&runItemsPath, "items", "i", "", "Path to a YAML item file")
	runCommand.Flags().IntVarP(&runSamples, "samples", "s", 0, "Number of generated sample items to enqueue")
	runCommand.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for generated samples (default: time based)")
	runCommand.Flags().StringVarP(&runMode, "mode", "m", "", "Processing mode: fast_only, deep_only or both (overrides config)")
	runCommand.Flags().DurationVar(&runDelay, "delay", -1, "Pause between items (overrides config)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print progress events and full record boxes")

	rootCmd.AddCommand(runCommand)
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	items, err := batchItems()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runDelay >= 0 {
		cfg.Pipeline.InterItemDelay = runDelay
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)
	opts := app.Options{}
	if runVerbose {
		opts.OnProgress = func(ev pipeline.ProgressEvent) { printer.PrintProgress(ev) }
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // shutdown errors are logged by the backends

	if runMode != "" {
		if err := a.Store.SetMode(types.Mode(runMode)); err != nil {
			return fmt.Errorf("--mode %q: %w", runMode, err)
		}
	}
	a.Start(ctx)

	before := len(a.Store.History())
	added := a.Scheduler.Enqueue(items...)
	fmt.Fprintf(out, "Enqueued %d items (%d queued), mode %s\n", added, a.Store.Len(), a.Store.Mode()) //nolint:errcheck

	if !a.Scheduler.Start(ctx) {
		fmt.Fprintln(out, "Queue is empty, nothing to resolve") //nolint:errcheck
		return nil
	}
	a.Scheduler.Wait()
	a.Orchestrator.Wait()

	resolved := a.Store.History()[before:]
	if runVerbose {
		for i := range resolved {
			printer.PrintRecord(&resolved[i])
		}
	}
	renderHistory(out, resolved)
	return ctx.Err()
}

// batchItems collects items from --items and --samples
func batchItems() ([]types.WorkItem, error) {
	var items []types.WorkItem
	if runItemsPath != "" {
		loaded, err := samples.LoadFile(runItemsPath)
		if err != nil {
			return nil, err
		}
		items = append(items, loaded...)
	}
	if runSamples > 0 {
		seed := runSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		items = append(items, samples.NewGenerator(seed).Items(runSamples)...)
	}
	return items, nil
}
