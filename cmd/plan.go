package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsdataclinic/mta/internal/report"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [year]",
		Short: "List the monthly ranges of a year and which are already checkpointed",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a App) error {
				entries, err := a.Plan(cmd.Context(), year)
				if err != nil {
					return fmt.Errorf("plan %d: %w", year, err)
				}
				report.WritePlan(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}
