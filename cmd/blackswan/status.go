package main

import (
	"time"

	"github.com/spf13/cobra"
)

var statusSettle time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report which feeds currently deliver usable documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		return printJSON(cmd.OutOrStdout(), application.Probe(cmd.Context(), statusSettle))
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusSettle, "settle", 5*time.Second, "Maximum time to wait for feed documents")
	rootCmd.AddCommand(statusCmd)
}
