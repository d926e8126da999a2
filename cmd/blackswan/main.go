// Command blackswan runs the Black Swan risk analysis service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/app"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "blackswan",
	Short:         "Black Swan risk analysis service",
	Long:          "Aggregates market, news, on-chain and peak-indicator feeds, asks a reasoning model for a tail-risk score and stores every validated result.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (overrides BLACKSWAN_CONFIG)")
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadApplication resolves configuration and builds the application.
func loadApplication(ctx context.Context) (*app.Application, *slog.Logger, error) {
	if configPath != "" {
		if err := os.Setenv("BLACKSWAN_CONFIG", configPath); err != nil {
			return nil, nil, fmt.Errorf("set config path: %w", err)
		}
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build application: %w", err)
	}
	return application, logger, nil
}
