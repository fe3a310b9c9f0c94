package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/kvstore"
)

// newRestoreCommand restores every named KV database file found in a
// backup directory back into the state directory, overwriting whatever is
// there. The agent must not be running concurrently: nothing here takes
// the flock the runtime Registry would.
func newRestoreCommand() *cobra.Command {
	var srcDir string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "restore the persistent KV store from a backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if srcDir == "" {
				return fmt.Errorf("restore: --from is required")
			}
			if err := os.MkdirAll(flags.StateDir, 0o750); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			restored := 0
			for _, id := range kvstore.AllIDs() {
				src := filepath.Join(srcDir, string(id)+".sqlite")
				if _, err := os.Stat(src); err != nil {
					continue
				}
				if err := copyFile(src, filepath.Join(flags.StateDir, string(id)+".sqlite")); err != nil {
					return fmt.Errorf("restore: %s: %w", id, err)
				}
				restored++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d database(s) from %s\n", restored, srcDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&srcDir, "from", "", "backup directory to restore from")
	return cmd
}
