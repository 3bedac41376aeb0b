package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/orchestrator"
)

func newLoadCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "load [date]",
		Short: "Fetch the data still missing for a run date.",
		Long: `load checks the watermark ledger for the date (today when omitted),
fetches only the payloads not yet confirmed present, and records every
outcome. Re-running is safe: confirmed payloads are never refetched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			date := time.Now().UTC().Format("2006-01-02")
			if len(args) == 1 {
				if _, err := time.Parse("2006-01-02", args[0]); err != nil {
					return fmt.Errorf("invalid date %q, want YYYY-MM-DD", args[0])
				}
				date = args[0]
			}

			status, err := a.Runner.Run(cmd.Context(), date, force)
			if err != nil {
				return fmt.Errorf("run load for %s: %w", date, err)
			}

			a.Logger.Info("load finished",
				zap.String("run_date", date),
				zap.String("outcome", status.Outcome),
				zap.Int("succeeded", status.ItemsSucceeded),
				zap.Int("failed", status.ItemsFailed),
				zap.Int("missing_after", status.MissingAfter))

			// Old payloads are only trimmed once the date is fully
			// confirmed, so a partial run never loses its fallbacks.
			if status.Outcome == orchestrator.OutcomeComplete {
				if err := a.Prune(cmd.Context()); err != nil {
					a.Logger.Warn("pruning old payloads failed", zap.Error(err))
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (%d/%d items, %d still missing)\n",
				status.RunID, status.Outcome, status.ItemsSucceeded, status.ItemsPlanned, status.MissingAfter)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "refetch everything, ignoring confirmed payloads")
	return cmd
}
