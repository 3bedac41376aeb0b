// Package cmd wires the CLI surface of the ingestion service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/app"
	"github.com/mlsdata/transfermkt-ingest/internal/config"
	"github.com/mlsdata/transfermkt-ingest/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap
// in a canned object graph.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfermkt-ingest",
		Short: "Transfermarkt data ingestion with per-date completeness tracking.",
		Long: `transfermkt-ingest loads Transfermarkt club and player data into an
object store and keeps a per-date watermark ledger of which payloads are
confirmed present, so every run fetches only what is still missing.`,
		SilenceErrors: true,
		SilenceUsage:  true,

		// Runs after flags are parsed but before the subcommand's RunE:
		// the place to build and inject the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logging.InitLogger(cfg.Logging.Development)

			appInstance, err := newApp(cmd.Context(), cfg, logging.L)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override")

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPruneCmd())

	return cmd
}

// appFromContext retrieves the injected App for a subcommand.
func appFromContext(cmd *cobra.Command) (*app.App, error) {
	appInstance, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// The logger may still be the no-op default when configuration
		// loading itself failed, so mirror the error to stderr.
		fmt.Fprintln(os.Stderr, "Error:", err)
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}
