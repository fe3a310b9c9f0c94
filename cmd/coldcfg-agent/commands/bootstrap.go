package commands

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/coldcfg/coldcfg/pkg/actuate/builtin"
	"github.com/coldcfg/coldcfg/pkg/dispatch"
	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/expand"
	"github.com/coldcfg/coldcfg/pkg/expand/functions"
	"github.com/coldcfg/coldcfg/pkg/governance"
	"github.com/coldcfg/coldcfg/pkg/kvstore"
	"github.com/coldcfg/coldcfg/pkg/locks"
	"github.com/coldcfg/coldcfg/pkg/parser"
)

// engine bundles every component wired together for one run: the KV
// registry backing persistent classes and locks, the evaluation context,
// the capability table, and the policy loader. Each cmd/coldcfg-agent
// subcommand builds one of these and uses whatever slice of it it needs.
type engine struct {
	logger zerolog.Logger
	kv     *kvstore.Registry
	locks  *locks.Registry
	loader *parser.DirLoader
	ectx   *evalctx.Context
	dsp    *dispatch.Dispatcher
}

func newLogger(flags *Flags) zerolog.Logger {
	level, err := zerolog.ParseLevel(flags.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if flags.Debug {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// buildEngine wires the Evaluation Context, Expansion Engine, Promise
// Dispatcher, Lock Registry, Persistent KV Store, and the native
// actuators together, the way runOnce (the "run" subcommand) and the
// read-only drift subcommand need them.
func buildEngine(flags *Flags) (*engine, error) {
	logger := newLogger(flags)

	kv := kvstore.NewRegistry(flags.StateDir, flags.WorkDir)

	classesHandle, err := kv.Open(kvstore.DBClasses)
	if err != nil {
		return nil, err
	}
	persist := kvstore.NewPersistentClasses(classesHandle)

	lockRegistry := locks.NewRegistry(kv, flags.StateDir)

	ectx := evalctx.New()
	ectx.Persist = persist
	for _, name := range flags.Defines {
		ectx.ClassPutHard(name, nil)
	}
	for _, name := range flags.Negate {
		ectx.Hard.Remove(name)
	}

	funcs := expand.NewFuncTable()
	functions.Register(funcs)

	caps := dispatch.NewCapabilityTable()
	builtin.Register(caps)

	loader := parser.NewDirLoader(flags.InputDir, flags.StateDir)

	hook := governance.New(logger)
	if err := loadGovernancePolicies(hook, flags.InputDir); err != nil {
		logger.Warn().Err(err).Msg("governance policies failed to load; continuing with policies loaded so far")
	}

	return &engine{
		logger: logger,
		kv:     kv,
		locks:  lockRegistry,
		loader: loader,
		ectx:   ectx,
		dsp: &dispatch.Dispatcher{
			Caps:        caps,
			Funcs:       funcs,
			Governance:  hook,
			Locks:       lockRegistry,
			IgnoreLocks: flags.NoLock,
			DryRun:      flags.DryRun,
			Logger:      logger,
		},
	}, nil
}

// loadGovernancePolicies loads every *.rego file under <inputDir>/governance
// as a guardrail policy. A missing directory is not an error: governance
// is optional (spec's Supplemented Features), so Hook.Check degrades to
// always-allow when no policies are loaded.
func loadGovernancePolicies(hook *governance.Hook, inputDir string) error {
	dir := filepath.Join(inputDir, "governance")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".rego" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := hook.Load(governance.Policy{Name: e.Name(), Rego: string(src)}); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) close() {
	e.kv.Shutdown()
}

// kvstoreRegistry and policyLoader are split out of buildEngine so
// runDaemon can construct only what the scheduler loop itself needs
// (it never touches classes/locks directly; DispatchPromise in the
// forked child does).
func kvstoreRegistry(flags *Flags) *kvstore.Registry {
	return kvstore.NewRegistry(flags.StateDir, flags.WorkDir)
}

func policyLoader(flags *Flags) *parser.DirLoader {
	return parser.NewDirLoader(flags.InputDir, flags.StateDir)
}
