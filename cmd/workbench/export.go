package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export resolution history as JSON or CSV",
	Long: `Writes the persisted history, or a single record with --id, to a file.
JSON contains the full records; CSV contains one flattened row per record.
Nothing is written when the selection is empty.`,
	RunE: runExport,
}

var (
	exportFormat string
	exportID     string
	exportOut    string
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json or csv")
	exportCmd.Flags().StringVar(&exportID, "id", "", "Export only the record with this id")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default golden-records.<format>)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := loadStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	path := exportOut
	if path == "" {
		path = export.FileName(format, exportID)
	}

	records := export.Select(st.History(), exportID)
	if err := export.WriteFile(path, format, records); err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to export") //nolint:errcheck
			return nil
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), path) //nolint:errcheck
	return nil
}
