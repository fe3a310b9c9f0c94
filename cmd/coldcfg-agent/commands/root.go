// Package commands wires the cobra CLI surface described in spec §6: the
// daemon's process flags, plus the validate/facts/drift/backup/restore
// companions described in SPEC_FULL.md's Supplemented Features.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Flags holds the process surface (spec §6) shared across subcommands.
type Flags struct {
	File                     string
	Defines                  []string
	Negate                   []string
	NoLock                   bool
	Inform                   bool
	Verbose                  bool
	Debug                    bool
	LogLevel                 string
	DryRun                   bool
	NoFork                   bool
	Once                     bool
	NoWinsrv                 bool
	LDLibraryPath            string
	Color                    string
	Timestamp                bool
	IgnorePreferredAugments  bool
	SkipDBCheck              string
	WithRunagentSocket       string

	InputDir string
	StateDir string
	WorkDir  string
}

var flags Flags

// Execute builds and runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	root := newRootCommand(version, commit, buildDate)
	return root.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	root := &cobra.Command{
		Use:   "coldcfg-agent",
		Short: "coldcfg-agent — declarative configuration-management agent",
		Long: `coldcfg-agent evaluates a policy document (bundles of promises) against
the local host to convergence: it resolves variables and classes, expands
iteration over list/container references, evaluates per-promise class
guards, and dispatches each fully-resolved promise to a typed actuator
(files, commands, variables, classes, packages, services).

Run with no subcommand to start the scheduler daemon loop described in
the process surface below. Subcommands offer read-only or maintenance
operations that exercise pieces of the engine independent of a full run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), &flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.File, "file", "", "load a single policy file instead of the input directory")
	pf.StringArrayVarP(&flags.Defines, "define", "D", nil, "define an additional hard class")
	pf.StringArrayVarP(&flags.Negate, "negate", "N", nil, "negate (undefine) a class")
	pf.BoolVar(&flags.NoLock, "no-lock", false, "ignore ifelapsed/expireafter locks (sets ignore_locks)")
	pf.BoolVarP(&flags.Inform, "inform", "I", false, "log informational messages")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&flags.Debug, "debug", false, "enable debug output")
	pf.StringVar(&flags.LogLevel, "log-level", "info", "log level: trace|debug|info|warn|error")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "evaluate without mutating host state (actuators WARN instead of CHANGE)")
	pf.BoolVar(&flags.NoFork, "no-fork", false, "run the agent inline instead of forking a child process")
	pf.BoolVar(&flags.Once, "once", false, "run a single ScheduleRun cycle and exit")
	pf.BoolVar(&flags.NoWinsrv, "no-winsrv", false, "(no-op outside Windows service integration)")
	pf.StringVar(&flags.LDLibraryPath, "ld-library-path", "", "set LD_LIBRARY_PATH for forked children")
	pf.StringVar(&flags.Color, "color", "auto", "colorize output: auto|always|never")
	pf.BoolVar(&flags.Timestamp, "timestamp", false, "prefix log lines with a timestamp")
	pf.BoolVar(&flags.IgnorePreferredAugments, "ignore-preferred-augments", false, "ignore augments.json even if present")
	pf.StringVar(&flags.SkipDBCheck, "skip-db-check", "no", "skip the KV repair-flag check at start-up: yes|no")
	pf.StringVar(&flags.WithRunagentSocket, "with-runagent-socket", "no", "bind the runagent control socket at <dir>, or \"no\" to disable")

	pf.StringVar(&flags.InputDir, "input-dir", "/var/lib/coldcfg/inputs", "policy input directory")
	pf.StringVar(&flags.StateDir, "state-dir", "/var/lib/coldcfg/state", "state directory (KV databases, pid file, validated-at marker)")
	pf.StringVar(&flags.WorkDir, "work-dir", "", "legacy work directory consulted read-only for pre-existing KV files")

	root.AddCommand(newValidateCommand())
	root.AddCommand(newFactsCommand())
	root.AddCommand(newDriftCommand())
	root.AddCommand(newBackupCommand())
	root.AddCommand(newRestoreCommand())
	root.AddCommand(newRunCommand())

	return root
}
