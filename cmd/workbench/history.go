package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/app"
	"github.com/jonathan/golden-record/internal/config"
	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/observability"
	"github.com/jonathan/golden-record/internal/persist"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [record-id]",
	Short: "Show persisted resolution history",
	Long:  `Reads the persisted state and prints the history as a table, or one record in detail when an id is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historyQueue bool

func init() {
	historyCmd.Flags().BoolVar(&historyQueue, "queue", false, "Also print the items still waiting in the queue")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := loadStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)

	if len(args) == 1 {
		rec, err := st.Record(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		printer.PrintRecord(&rec)
		return nil
	}

	renderHistory(out, st.History())
	if historyQueue {
		printer.PrintQueue(st.Queue())
	}
	return nil
}

// loadStore reads persisted state without wiring the model gateway
func loadStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	kv, err := app.OpenKV(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer kv.Close() //nolint:errcheck // read-only use

	log, err := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	st := store.New(types.Mode(cfg.Pipeline.Mode))
	if err := persist.New(kv, st, log).Load(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// renderHistory prints one row per record using the most authoritative profile
func renderHistory(w io.Writer, records []types.ResolutionRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Customer", "Mode", "Fast", "Deep", "Golden", "Sentiment", "Intent", "Confidence"})
	for _, rec := range records {
		customer := rec.Source.SourceRecord.Name
		sentiment, intent, confidence := "", "", ""
		if p := rec.BestProfile(); p != nil {
			customer = p.Name
			sentiment = string(p.Sentiment)
			intent = p.Intent
			confidence = strconv.FormatFloat(p.Confidence, 'f', 2, 64)
		}
		tw.AppendRow(table.Row{
			shortID(rec.ID),
			customer,
			rec.Mode,
			pathCell(rec, types.PathFast),
			pathCell(rec, types.PathDeep),
			goldenCell(rec.Consolidated),
			sentiment,
			intent,
			confidence,
		})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d records", len(records))})
	tw.Render()
}

func pathCell(rec types.ResolutionRecord, path types.Path) string {
	if !rec.Mode.Selects(path) {
		return "-"
	}
	res := rec.PathResolution(path)
	if res.State == types.StateCompleted {
		return fmt.Sprintf("ok %dms", res.ElapsedMs)
	}
	return string(res.State)
}

func goldenCell(c *types.ConsolidatedResolution) string {
	if c == nil {
		return "-"
	}
	return string(c.State)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
