package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/kvstore"
)

// newBackupCommand copies every named KV database file under the state
// directory into a timestamped backup directory. It does not need a live
// Registry: the databases are plain SQLite files, safely copyable while
// idle (the agent should not be mid-run).
func newBackupCommand() *cobra.Command {
	var destDir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "copy the persistent KV store to a backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if destDir == "" {
				destDir = filepath.Join(flags.StateDir, "backups", time.Now().UTC().Format("20060102T150405Z"))
			}
			if err := os.MkdirAll(destDir, 0o750); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			copied := 0
			for _, id := range kvstore.AllIDs() {
				src := filepath.Join(flags.StateDir, string(id)+".sqlite")
				if _, err := os.Stat(src); err != nil {
					continue
				}
				if err := copyFile(src, filepath.Join(destDir, string(id)+".sqlite")); err != nil {
					return fmt.Errorf("backup: %s: %w", id, err)
				}
				copied++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backed up %d database(s) to %s\n", copied, destDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&destDir, "dest", "", "backup destination directory (default: <state-dir>/backups/<timestamp>)")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
