package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/app"
	"github.com/jonathan/golden-record/internal/observability"
	"github.com/jonathan/golden-record/internal/types"
)

var retryCmd = &cobra.Command{
	Use:   "retry <record-id>",
	Short: "Re-run the model paths of one history record",
	Long: `Re-runs a persisted record with the current mode (or --mode). Only the paths the mode
selects are reset; any previous golden record is discarded and recomputed when both paths succeed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

var retryMode string

func init() {
	retryCmd.Flags().StringVarP(&retryMode, "mode", "m", "", "Processing mode for the retry: fast_only, deep_only or both")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // shutdown errors are logged by the backends

	if retryMode != "" {
		if err := a.Store.SetMode(types.Mode(retryMode)); err != nil {
			return fmt.Errorf("--mode %q: %w", retryMode, err)
		}
	}
	a.Start(ctx)

	id := args[0]
	if err := a.Orchestrator.Retry(ctx, id); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	a.Orchestrator.Wait()

	rec, err := a.Store.Record(id)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRecord(&rec)
	return nil
}
