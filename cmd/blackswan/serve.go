package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Subscribe to feeds and run analysis cycles on the configured interval",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, logger, err := loadApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	logger.Info("service starting")
	if err := application.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("service stopped", "reason", context.Cause(ctx))
	return nil
}
