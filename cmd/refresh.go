package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [date]",
		Short: "Rebuild the watermark ledger from the object store and print the report.",
		Long: `refresh recomputes every ledger row for the date (today when omitted)
from what is actually present in the object store, marks everything for
refetch, and prints the resulting completeness report. It does not fetch
anything; run load afterwards.`,
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

			if _, err := a.Ledger.BuildOrRefresh(cmd.Context(), date, true); err != nil {
				return fmt.Errorf("rebuild ledger for %s: %w", date, err)
			}
			report, err := a.Ledger.CompletenessReport(cmd.Context(), date)
			if err != nil {
				return fmt.Errorf("build report for %s: %w", date, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			return nil
		},
	}
}
