package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete old payloads, keeping the newest per source folder.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd)
			if err != nil {
				return err
			}
			if err := a.Prune(cmd.Context()); err != nil {
				return fmt.Errorf("prune payloads: %w", err)
			}
			return nil
		},
	}
}
