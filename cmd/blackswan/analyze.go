package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var analyzeSettle time.Duration

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a single analysis cycle and print its outcome as JSON",
	Long: `Connects to the feeds, waits up to --settle for documents to arrive, then runs one cycle.

The command exits non-zero when the cycle fails.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeSettle, "settle", 10*time.Second, "Maximum time to wait for feed documents before analysing")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	application, _, err := loadApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	out := application.RunOnce(ctx, analyzeSettle)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("cycle failed: %s", out.Error)
	}
	return nil
}
