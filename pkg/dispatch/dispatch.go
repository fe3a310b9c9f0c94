package dispatch

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/expand"
	"github.com/coldcfg/coldcfg/pkg/iterate"
	"github.com/coldcfg/coldcfg/pkg/locks"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// GovernanceHook is consulted after a promise's class guard passes and
// before actuation; a rejection yields the DENIED outcome. pkg/governance's OPA-backed hook implements this.
type GovernanceHook interface {
	Check(ctx *evalctx.Context, p *promise.Promise) (allowed bool, err error)
}

// Dispatcher is the Promise Dispatcher (C4): it owns the capability table,
// the function table, the resolved body index, and walks bundles to
// convergence.
type Dispatcher struct {
	Caps       *CapabilityTable
	Funcs      *expand.FuncTable
	Bodies     map[string]*promise.Body
	Governance GovernanceHook // nil disables the guardrail hook
	Locks      *locks.Registry  // nil disables ifelapsed/expireafter locking (§4.6)
	IgnoreLocks bool            // --no-lock: skip the ifelapsed rate limit
	DryRun     bool
	Logger     zerolog.Logger
}

// New creates a Dispatcher over a policy's body index.
func New(caps *CapabilityTable, funcs *expand.FuncTable, policy *promise.Policy) *Dispatcher {
	return &Dispatcher{Caps: caps, Funcs: funcs, Bodies: policy.BodyIndex(), Logger: zerolog.Nop()}
}

// DispatchPromise runs one promise through the full per-promise algorithm
// and returns its aggregated outcome.
func (d *Dispatcher) DispatchPromise(ctx *evalctx.Context, namespace, bundle string, p promise.Promise) (promise.Outcome, error) {
	if p.ClassGuard != "" {
		defined, err := ctx.ClassIsDefined(p.ClassGuard)
		if err != nil {
			return promise.FAIL, err
		}
		if !defined {
			return promise.SKIPPED, nil
		}
	}

	working := InlineBodyReferences(p, d.Bodies, namespace)

	ctx.PushFrame(evalctx.FramePromise, working.ID, namespace, bundle)
	defer ctx.PopFrame(evalctx.FramePromise)

	handle := evalctx.Canonicalize(working.Handle)
	if handle == "" {
		handle = evalctx.Canonicalize(working.Loc.File) + "_" + working.ID
	}

	iter := iterate.Prepare(ctx, &working)

	outcome := promise.NOOP
	for iter.Next(ctx) {
		iterOutcome, err := d.actuateOneIteration(ctx, namespace, bundle, &working, handle)
		if err != nil && iterOutcome == promise.FAIL {
			outcome = promise.Aggregate(outcome, promise.FAIL)
			continue
		}
		outcome = promise.Aggregate(outcome, iterOutcome)
	}
	return outcome, nil
}

func (d *Dispatcher) actuateOneIteration(ctx *evalctx.Context, namespace, bundle string, working *promise.Promise, handle string) (promise.Outcome, error) {
	ctx.PushFrame(evalctx.FrameIteration, working.ID, namespace, bundle)
	defer ctx.PopFrame(evalctx.FrameIteration)

	expandedPromiser, err := expand.ExpandRval(ctx, d.Funcs, working.Promiser)
	if err != nil {
		return promise.FAIL, err
	}
	if err := ctx.ThisBinding(expandedPromiser.String(), working.Loc.File, "", handle); err != nil {
		return promise.FAIL, err
	}

	expandedPromisee := promise.Empty
	if working.Promisee.Kind != promise.KindEmpty {
		expandedPromisee, err = expand.ExpandRval(ctx, d.Funcs, working.Promisee)
		if err != nil {
			return promise.FAIL, err
		}
	}

	expandedConstraints := make([]promise.Constraint, len(working.Constraints))
	for i, c := range working.Constraints {
		rv, err := expand.ExpandRval(ctx, d.Funcs, c.Rval)
		if err != nil {
			return promise.FAIL, err
		}
		expandedConstraints[i] = promise.Constraint{Lval: c.Lval, Rval: rv, Loc: c.Loc}
	}

	expandedPromise := *working
	expandedPromise.Promiser = expandedPromiser
	expandedPromise.Promisee = expandedPromisee
	expandedPromise.Constraints = expandedConstraints
	expandedPromise.Handle = handle

	if working.ClassGuard != "" {
		defined, err := ctx.ClassIsDefined(working.ClassGuard)
		if err != nil {
			return promise.FAIL, err
		}
		if !defined {
			return promise.SKIPPED, nil
		}
	}

	if d.Governance != nil {
		allowed, err := d.Governance.Check(ctx, &expandedPromise)
		if err != nil {
			return promise.FAIL, err
		}
		if !allowed {
			return promise.DENIED, nil
		}
	}

	actuator, ok := d.Caps.Get(working.PromiseType)
	if !ok {
		return promise.FAIL, &ErrNoActuator{PromiseType: working.PromiseType}
	}

	if d.Locks != nil {
		release, outcome, err := d.acquireLock(namespace, bundle, &expandedPromise, expandedPromiser.String())
		if err != nil {
			return promise.FAIL, err
		}
		if release == nil {
			// TOO_SOON / LOCKED_BY_OTHER: surfaces as SKIPPED without
			// further diagnostic beyond the verbose log line already
			// emitted by acquireLock, per §7.
			return outcome, nil
		}
		defer release()
	}

	outcome, err := actuator.Actuate(ctx, &expandedPromise, d.DryRun)
	if err != nil {
		return promise.FAIL, err
	}

	// vars/meta promise types run at "double rate": re-actuate so newly
	// defined variables are immediately visible to sibling promises
	// within the same pass.
	if working.PromiseType == "vars" || working.PromiseType == "meta" {
		second, err := actuator.Actuate(ctx, &expandedPromise, d.DryRun)
		if err != nil {
			return promise.FAIL, err
		}
		outcome = promise.Aggregate(outcome, second)
	}

	return outcome, nil
}

// DispatchBundle pushes a bundle frame, walks its sections in the
// configured normal order, and aggregates
// the outcome of every promise.
func (d *Dispatcher) DispatchBundle(ctx *evalctx.Context, b *promise.Bundle) (promise.Outcome, error) {
	ctx.PushFrame(evalctx.FrameBundle, b.Name, b.Namespace, b.Name)
	defer ctx.PopFrame(evalctx.FrameBundle)

	byType := make(map[string]*promise.Section, len(b.Sections))
	for i := range b.Sections {
		byType[b.Sections[i].PromiseType] = &b.Sections[i]
	}

	order := promise.NormalOrder
	seen := make(map[string]bool, len(order))
	outcome := promise.NOOP

	visit := func(sec *promise.Section) error {
		ctx.PushFrame(evalctx.FrameSection, sec.PromiseType, b.Namespace, b.Name)
		defer ctx.PopFrame(evalctx.FrameSection)
		for _, p := range sec.Promises {
			o, err := d.DispatchPromise(ctx, b.Namespace, b.Name, p)
			if err != nil && o != promise.FAIL {
				return err
			}
			outcome = promise.Aggregate(outcome, o)
		}
		return nil
	}

	for _, typ := range order {
		seen[typ] = true
		if sec, ok := byType[typ]; ok {
			if err := visit(sec); err != nil {
				return outcome, err
			}
		}
	}
	// Any promise-type not in the configured normal order still runs,
	// after the known ones, in declared order.
	for i := range b.Sections {
		sec := &b.Sections[i]
		if seen[sec.PromiseType] {
			continue
		}
		if err := visit(sec); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// Run walks the full bundle sequence to convergence: up to three passes,
// stopping early once a pass introduces no new hard classes and no CHANGE
// outcome.
func (d *Dispatcher) Run(ctx *evalctx.Context, policy *promise.Policy) (promise.Outcome, error) {
	const maxPasses = 3
	overall := promise.NOOP
	prevClassCount := -1

	for pass := 0; pass < maxPasses; pass++ {
		passOutcome := promise.NOOP
		for i := range policy.Bundles {
			o, err := d.DispatchBundle(ctx, &policy.Bundles[i])
			if err != nil {
				return overall, err
			}
			passOutcome = promise.Aggregate(passOutcome, o)
		}
		overall = promise.Aggregate(overall, passOutcome)

		classCount := len(ctx.Hard.Names())
		noNewClasses := prevClassCount == classCount
		noChange := passOutcome < promise.CHANGE
		prevClassCount = classCount
		if noNewClasses && noChange {
			break
		}
	}
	return overall, nil
}

// acquireLock implements §4.6's acquisition protocol for one promise
// iteration. It only participates when the expanded promise carries an
// ifelapsed or expireafter constraint; promises without either run
// unlocked, as today. On success it returns a release func the caller
// must defer; on TOO_SOON/LOCKED_BY_OTHER it returns a nil release func
// and the SKIPPED outcome.
func (d *Dispatcher) acquireLock(namespace, bundle string, p *promise.Promise, expandedPromiser string) (func(), promise.Outcome, error) {
	ifelapsed, hasIfelapsed := lockMinutesConstraint(p, "ifelapsed")
	expireafter, hasExpireafter := lockMinutesConstraint(p, "expireafter")
	if !hasIfelapsed && !hasExpireafter {
		return func() {}, promise.NOOP, nil
	}

	selected := map[string]string{}
	if v, ok := constraintLookup(p, "ifelapsed"); ok && v.Kind == promise.KindScalar {
		selected["ifelapsed"] = v.Scalar
	}
	if v, ok := constraintLookup(p, "expireafter"); ok && v.Kind == promise.KindScalar {
		selected["expireafter"] = v.Scalar
	}
	if p.Handle != "" {
		selected["handle"] = p.Handle
	}

	key := locks.Key(namespace, bundle, p.PromiseType, expandedPromiser, selected)
	held, outcome, err := d.Locks.Acquire(key, ifelapsed, expireafter, d.IgnoreLocks)
	if err != nil {
		return nil, promise.FAIL, err
	}
	if outcome != locks.Acquired {
		d.Logger.Debug().Str("key", key).Str("outcome", lockOutcomeString(outcome)).Msg("lock not acquired")
		return nil, promise.SKIPPED, nil
	}
	return func() { _ = held.Release() }, promise.NOOP, nil
}

func constraintLookup(p *promise.Promise, lval string) (promise.Rval, bool) {
	for _, c := range p.Constraints {
		if c.Lval == lval {
			return c.Rval, true
		}
	}
	return promise.Rval{}, false
}

func lockMinutesConstraint(p *promise.Promise, lval string) (time.Duration, bool) {
	v, ok := constraintLookup(p, lval)
	if !ok || v.Kind != promise.KindScalar || v.Scalar == "" {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(v.Scalar, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(minutes * float64(time.Minute)), true
}

func lockOutcomeString(o locks.Outcome) string {
	switch o {
	case locks.TooSoon:
		return "TOO_SOON"
	case locks.LockedByOther:
		return "LOCKED_BY_OTHER"
	default:
		return "ACQUIRED"
	}
}
