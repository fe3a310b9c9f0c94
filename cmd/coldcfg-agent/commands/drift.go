package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/drift"
	"github.com/coldcfg/coldcfg/pkg/facts"
)

// newDriftCommand evaluates the policy in dry-run mode and reports every
// promise that would change, without actuating anything or acquiring any
// locks.
func newDriftCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "report promises that would change on the next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := buildEngine(&flags)
			if err != nil {
				return fmt.Errorf("drift: %w", err)
			}
			defer e.close()

			if err := facts.NewRegistry().Populate(ctx, e.ectx); err != nil {
				e.logger.Warn().Err(err).Msg("fact collection incomplete")
			}

			policy, err := e.loader.Load(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Msg("policy load fell back to failsafe")
			}
			e.dsp.Bodies = policy.BodyIndex()

			report, err := drift.Detect(e.ectx, e.dsp, policy)
			if err != nil {
				return fmt.Errorf("drift: %w", err)
			}
			if len(report.Findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no drift detected")
				return nil
			}
			for _, f := range report.Findings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s.%s\t%s\t%s\n", outcomeString(f.Outcome), f.Bundle, f.PromiseType, f.Promiser, f.Namespace)
			}
			return nil
		},
	}
}
