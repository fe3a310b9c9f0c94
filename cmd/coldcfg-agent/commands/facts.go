package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/facts"
)

// newFactsCommand runs the default fact collectors against the local host
// and prints every discovered sys.* variable, without loading or
// evaluating any policy.
func newFactsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "facts",
		Short: "print discovered sys.* facts for this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ectx := evalctx.New()
			if err := facts.NewRegistry().Populate(cmd.Context(), ectx); err != nil {
				return fmt.Errorf("facts: %w", err)
			}
			names := ectx.Sys.Names()
			sort.Strings(names)
			for _, name := range names {
				v, _ := ectx.Sys.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "sys.%s = %s\n", name, v.Value.String())
			}
			return nil
		},
	}
}
