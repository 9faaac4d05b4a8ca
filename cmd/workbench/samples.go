package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/samples"
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Generate a YAML item file with sample work items",
	Long:  `Generates sample work items and writes them to a YAML item file that "run --items" accepts.`,
	RunE:  runSamplesCmd,
}

var (
	samplesCount int
	samplesSeed  uint64
	samplesOut   string
)

func init() {
	samplesCmd.Flags().IntVarP(&samplesCount, "count", "n", 5, "Number of items to generate")
	samplesCmd.Flags().Uint64Var(&samplesSeed, "seed", 0, "Generator seed (default: time based)")
	samplesCmd.Flags().StringVarP(&samplesOut, "out", "o", "items.yaml", "Output file")
	rootCmd.AddCommand(samplesCmd)
}

func runSamplesCmd(cmd *cobra.Command, _ []string) error {
	if samplesCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	seed := samplesSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	items := samples.NewGenerator(seed).Items(samplesCount)
	if err := samples.SaveFile(samplesOut, items); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d items to %s\n", len(items), samplesOut) //nolint:errcheck
	return nil
}
