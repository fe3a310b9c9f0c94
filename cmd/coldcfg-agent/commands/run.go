package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coldcfg/coldcfg/pkg/facts"
	"github.com/coldcfg/coldcfg/pkg/locks"
	"github.com/coldcfg/coldcfg/pkg/promise"
	"github.com/coldcfg/coldcfg/pkg/scheduler"
	"github.com/coldcfg/coldcfg/pkg/telemetry"
)

// newRunCommand runs exactly one convergence pass inline and exits. This is
// what the scheduler daemon forks (or calls inline under --no-fork) every
// time ScheduleRun decides a run is due; it is also useful directly for a
// one-shot apply from a terminal or CI step.
func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "evaluate the policy to convergence once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), &flags)
		},
	}
}

// runOnce builds the full engine, collects facts, loads the policy, and
// dispatches it to convergence (up to three passes), returning a non-nil
// error only on a FAIL outcome or a hard loader/engine error.
func runOnce(ctx context.Context, f *Flags) error {
	e, err := buildEngine(f)
	if err != nil {
		return fmt.Errorf("run: %w", err)
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

	outcome, err := e.dsp.Run(e.ectx, policy)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	e.logger.Info().Str("outcome", outcomeString(outcome)).Msg("convergence pass complete")
	if outcome == promise.FAIL {
		return fmt.Errorf("run: one or more promises failed")
	}
	return nil
}

func outcomeString(o promise.Outcome) string {
	switch o {
	case promise.NOOP:
		return "NOOP"
	case promise.SKIPPED:
		return "SKIPPED"
	case promise.CHANGE:
		return "CHANGE"
	case promise.WARN:
		return "WARN"
	case promise.FAIL:
		return "FAIL"
	case promise.DENIED:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// runDaemon is the root command's default action: it performs apoptosis
// against any stale prior instance, then starts the Scheduler Daemon
// loop, which forks this same binary's "run" subcommand on every due
// check.
func runDaemon(ctx context.Context, f *Flags) error {
	logger := newLogger(f)

	pidFile := f.StateDir + "/coldcfg-agent.pid"
	if err := scheduler.Apoptosis(pidFile); err != nil {
		logger.Warn().Err(err).Msg("apoptosis signal to prior instance failed")
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("run-daemon: resolve executable: %w", err)
	}

	kv := kvstoreRegistry(f)
	lockRegistry := locks.NewRegistry(kv, f.StateDir)
	loader := policyLoader(f)

	cfg := scheduler.Config{
		StateDir:          f.StateDir,
		InputDir:          f.InputDir,
		IgnoreLocks:       f.NoLock,
		DryRun:            f.DryRun,
		NoFork:            f.NoFork,
		Once:              f.Once,
		RunAgentSocketDir: runagentSocketDir(f),
		AgentBinary:       exePath,
		AgentArgs:         forwardedRunArgs(f),
	}

	d := scheduler.New(cfg, logger, loader, kv, lockRegistry, (*telemetry.Metrics)(nil))
	return d.Run(ctx)
}

// forwardedRunArgs reconstructs the flag set a forked "run" invocation
// needs to see the same input/state directories and policy-evaluation
// mode as the parent daemon.
func forwardedRunArgs(f *Flags) []string {
	args := []string{"run", "--input-dir", f.InputDir, "--state-dir", f.StateDir, "--log-level", f.LogLevel}
	if f.DryRun {
		args = append(args, "--dry-run")
	}
	if f.NoLock {
		args = append(args, "--no-lock")
	}
	for _, d := range f.Defines {
		args = append(args, "--define", d)
	}
	for _, n := range f.Negate {
		args = append(args, "--negate", n)
	}
	return args
}

func runagentSocketDir(f *Flags) string {
	if f.WithRunagentSocket == "" || f.WithRunagentSocket == "no" {
		return ""
	}
	return f.WithRunagentSocket
}
