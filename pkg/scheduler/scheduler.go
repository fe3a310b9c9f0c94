// Package scheduler implements the Scheduler Daemon (C8): a foreground or
// backgrounded process loop that reaps zombie children, decides when a
// reload is due, computes time classes, and forks the agent run, all while
// remaining cooperatively cancellable at every suspension point.
//
// Implements §4.8/§5/§8's scheduling, signal, and suspension-point model
// directly: no comparable periodic daemon loop exists elsewhere in this
// codebase to adapt, so this package is new, written in the surrounding
// codebase's idiom (zerolog component logger, context.Context threading).
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldcfg/coldcfg/pkg/kvstore"
	"github.com/coldcfg/coldcfg/pkg/locks"
	"github.com/coldcfg/coldcfg/pkg/promise"
	"github.com/coldcfg/coldcfg/pkg/telemetry"
)

// pendingTermination is the one permitted process-global: an atomic flag
// set by the signal handler and polled at every suspension point, per the
// design note that all other state lives in an explicit value threaded
// through calls.
var pendingTermination int32

// RequestTermination sets the pending-termination flag. Safe to call from
// a signal handler.
func RequestTermination() { atomic.StoreInt32(&pendingTermination, 1) }

// TerminationPending reports whether a termination signal has been observed.
func TerminationPending() bool { return atomic.LoadInt32(&pendingTermination) != 0 }

// PolicyLoader loads and validates policy from the input directory,
// returning the parsed tree plus the validated-at timestamp recorded on
// disk. Implemented by pkg/parser.
type PolicyLoader interface {
	Load(ctx context.Context) (*promise.Policy, error)
	ValidatedAt() (time.Time, error)
}

// Config bundles the daemon's bootstrap configuration (spec §6 process
// surface, subset relevant to the loop).
type Config struct {
	StateDir          string
	InputDir          string
	Schedule          []string // time-class names, e.g. "Min05", "Hr00", "Monday" — empty means "always due"
	Splay             time.Duration
	Pulse             time.Duration // fixed pulse between ScheduleRun checks; spec default ~1 minute
	NoFork            bool
	Once              bool
	IgnoreLocks       bool
	DryRun            bool
	RunAgentSocketDir string // "" disables the control socket
	RunAgentACL       []string
	AgentBinary       string
	AgentArgs         []string
}

// Daemon is the Scheduler Daemon (C8). It owns no process-global state
// beyond the pendingTermination flag; everything else is a field here.
type Daemon struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	loader PolicyLoader
	kv     *kvstore.Registry
	locks  *locks.Registry

	lastValidatedAt time.Time
	pidFile         string

	runagent *runagentServer
}

// New constructs a Daemon. metrics is stored as given and may be nil; the
// loop records nothing through it.
func New(cfg Config, logger zerolog.Logger, loader PolicyLoader, kv *kvstore.Registry, lk *locks.Registry, metrics *telemetry.Metrics) *Daemon {
	if cfg.Pulse <= 0 {
		cfg.Pulse = time.Minute
	}
	return &Daemon{
		cfg:     cfg,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		metrics: metrics,
		loader:  loader,
		kv:      kv,
		locks:   lk,
		pidFile: filepath.Join(cfg.StateDir, "coldcfg-agent.pid"),
	}
}

// Run writes the pid file, installs signal handling, optionally binds the
// runagent control socket, and loops until termination or (in --once mode)
// a single due check. It returns when the loop exits cleanly.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("scheduler: write pid file: %w", err)
	}
	defer os.Remove(d.pidFile)

	d.installSignalHandlers()

	if d.cfg.RunAgentSocketDir != "" {
		srv, err := newRunagentServer(d.cfg.RunAgentSocketDir, d.cfg.RunAgentACL, d.cfg.AgentBinary, d.cfg.AgentArgs, d.logger)
		if err != nil {
			return fmt.Errorf("scheduler: runagent socket: %w", err)
		}
		d.runagent = srv
		go srv.Serve(ctx)
		defer srv.Close()
	}

	if w, err := d.watchInputDir(); err != nil {
		d.logger.Warn().Err(err).Msg("fsnotify watch on input directory unavailable; relying on pulse-only reload checks")
	} else {
		defer w.Close()
	}

	for {
		d.reapChildren()

		decision, err := d.ScheduleRun(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("schedule run decision failed")
		} else {
			d.logger.Debug().Str("reload", decision.String()).Msg("schedule run evaluated")
		}

		due := d.timeClassesDue(time.Now())
		if due {
			if err := d.sleepInterruptible(ctx, d.splayDuration()); err != nil {
				return nil // termination observed mid-splay
			}
			if TerminationPending() {
				return nil
			}
			d.spawnAgent(ctx)
			if d.cfg.Once {
				return nil
			}
		} else if d.cfg.Once {
			return nil
		}

		if err := d.sleepInterruptible(ctx, d.cfg.Pulse); err != nil {
			return nil
		}
		if TerminationPending() {
			return nil
		}
	}
}

// ReloadDecision is the outcome of ScheduleRun's comparison of the
// promises_validated_at timestamp.
type ReloadDecision int

const (
	ReloadNone ReloadDecision = iota
	ReloadEnvironment
	ReloadFull
)

func (r ReloadDecision) String() string {
	switch r {
	case ReloadFull:
		return "full"
	case ReloadEnvironment:
		return "environment"
	default:
		return "none"
	}
}

// ScheduleRun implements §4.8 step 2: compare the on-disk validated-at
// timestamp to the remembered one. If it advanced and the new policy
// parses, perform a full reload; otherwise an environment-only reload.
func (d *Daemon) ScheduleRun(ctx context.Context) (ReloadDecision, error) {
	validatedAt, err := d.loader.ValidatedAt()
	if err != nil {
		return ReloadEnvironment, err
	}
	if !validatedAt.After(d.lastValidatedAt) {
		return ReloadEnvironment, nil
	}
	if _, err := d.loader.Load(ctx); err != nil {
		// New policy is invalid; stay on the last good one and only
		// refresh the environment, per §7 policy-error handling.
		d.logger.Warn().Err(err).Msg("candidate policy failed to parse; keeping previous policy")
		return ReloadEnvironment, err
	}
	d.lastValidatedAt = validatedAt
	return ReloadFull, nil
}

func (d *Daemon) splayDuration() time.Duration {
	if d.cfg.Splay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d.cfg.Splay)))
}

// sleepInterruptible sleeps for d, waking early on ctx cancellation or a
// pending-termination flag poll every 100ms (the loop's suspension point
// granularity).
func (d *Daemon) sleepInterruptible(ctx context.Context, dur time.Duration) error {
	deadline := time.Now().Add(dur)
	tick := 100 * time.Millisecond
	for {
		if TerminationPending() {
			return context.Canceled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reapChildren performs a non-blocking wait for any zombie children.
func (d *Daemon) reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		d.logger.Debug().Int("pid", pid).Msg("reaped child")
	}
}

// spawnAgent forks (via exec.Command, which itself forks+execs) a child
// that invokes the agent binary; on fork failure the run happens inline.
func (d *Daemon) spawnAgent(ctx context.Context) {
	if d.cfg.NoFork {
		d.runInline(ctx)
		return
	}
	cmd := exec.Command(d.cfg.AgentBinary, d.cfg.AgentArgs...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("fork failed, running inline")
		d.runInline(ctx)
		return
	}
	d.logger.Info().Int("pid", cmd.Process.Pid).Msg("spawned agent run")
	go func() {
		_ = cmd.Wait()
	}()
}

func (d *Daemon) runInline(ctx context.Context) {
	cmd := exec.CommandContext(ctx, d.cfg.AgentBinary, d.cfg.AgentArgs...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		d.logger.Error().Err(err).Msg("inline agent run failed")
	}
}

func (d *Daemon) writePIDFile() error {
	if err := os.MkdirAll(d.cfg.StateDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(d.pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o640)
}

// installSignalHandlers wires SIGTERM/SIGINT to the pending-termination
// flag, SIGHUP to a forced reload (handled by clearing lastValidatedAt so
// the next ScheduleRun call always reloads), and ignores SIGPIPE.
func (d *Daemon) installSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGPIPE)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.Info().Str("signal", sig.String()).Msg("termination requested")
				RequestTermination()
				if d.runagent != nil {
					d.runagent.Close()
				}
			case syscall.SIGHUP:
				d.logger.Info().Msg("reload requested")
				d.lastValidatedAt = time.Time{}
			case syscall.SIGUSR1, syscall.SIGUSR2:
				d.logger.Debug().Str("signal", sig.String()).Msg("internal toggle signal received")
			case syscall.SIGPIPE:
				// ignored in daemon; exec resets caught signals, so spawned
				// children start with the default disposition.
			}
		}
	}()
}

// Apoptosis delivers SIGTERM to any stale prior instance of this daemon
// found via pidFile, per §5's "apoptosis" start-up behavior.
func Apoptosis(pidFile string) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return nil
	}
	if pid == os.Getpid() || pid <= 1 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Signal(syscall.SIGTERM)
}
