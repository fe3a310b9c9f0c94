package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/parser"
)

// newValidateCommand parses the input directory (or a single --file) and
// reports success or the first parse/validation error, without touching
// any managed state. Exit status communicates pass/fail for scripting.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "parse and validate policy without evaluating it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := parser.New()
			if flags.File != "" {
				pol, err := p.LoadFile(flags.File)
				if err != nil {
					return fmt.Errorf("validate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %d bundle(s), %d bod(y/ies)\n", len(pol.Bundles), len(pol.Bodies))
				return nil
			}
			pol, err := p.LoadDir(flags.InputDir)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d bundle(s), %d bod(y/ies)\n", len(pol.Bundles), len(pol.Bodies))
			return nil
		},
	}
}
