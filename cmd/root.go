package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/superboost/allerscan-cli/internal/config"
	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "allerscan",
	Short: "Client for the SuperBoost AllerScan allergen prediction backend",
	Long:  "Browses, aggregates and exports the AllerScan prediction dataset, submits products for classification, and serves the aggregated view as a local JSON API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// newClient builds the backend gateway from the loaded configuration.
func newClient() allerscan.Client {
	return allerscan.NewClient(
		allerscan.WithBaseURL(cfg.API.BaseURL),
		allerscan.WithTimeout(time.Duration(cfg.API.TimeoutSecs)*time.Second),
		allerscan.WithExportTimeout(time.Duration(cfg.API.ExportTimeoutSecs)*time.Second),
		allerscan.WithRateLimit(rate.Limit(cfg.API.RatePerSec), cfg.API.Concurrency),
		allerscan.WithConcurrency(cfg.API.Concurrency),
		allerscan.WithBulkPageSize(cfg.Dataset.BulkPageSize),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
