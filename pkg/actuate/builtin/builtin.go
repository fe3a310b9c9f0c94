// Package builtin implements the native Actuator set: files, commands,
// vars, classes, packages, services, and reports. Each of files, commands,
// vars, classes, packages, and services is grounded on the corresponding
// handler in pkg/micro_runner/handlers package, adapted from a one-shot
// RPC handler into an idempotent Actuate call that inspects current state
// before deciding NOOP vs CHANGE. reports has no micro_runner analogue; see
// reports.go.
package builtin

import (
	"github.com/coldcfg/coldcfg/pkg/dispatch"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Register binds every native actuator to its promise-type in caps.
// cmd/coldcfg-agent's buildEngine calls this once when wiring an engine. A
// WASM-bridged actuator (pkg/actuate/wasmhost) registered afterwards for
// the same promise-type replaces the built-in binding.
func Register(caps *dispatch.CapabilityTable) {
	caps.Register("files", Files{})
	caps.Register("commands", Commands{})
	caps.Register("vars", Vars{})
	caps.Register("classes", Classes{})
	caps.Register("packages", Packages{})
	caps.Register("services", Services{})
	caps.Register("reports", Reports{})
}

// constraint looks up a promise's constraint by lval.
func constraint(p *promise.Promise, lval string) (promise.Rval, bool) {
	for _, c := range p.Constraints {
		if c.Lval == lval {
			return c.Rval, true
		}
	}
	return promise.Rval{}, false
}

// stringConstraint returns a scalar constraint's value, or def if absent.
func stringConstraint(p *promise.Promise, lval, def string) string {
	if rv, ok := constraint(p, lval); ok && rv.Kind == promise.KindScalar {
		return rv.Scalar
	}
	return def
}

// boolConstraint interprets a scalar constraint as "true"/"false".
func boolConstraint(p *promise.Promise, lval string, def bool) bool {
	if rv, ok := constraint(p, lval); ok && rv.Kind == promise.KindScalar {
		return rv.Scalar == "true"
	}
	return def
}

// listConstraint flattens a list constraint to its scalar elements, skipping
// any non-scalar items.
func listConstraint(p *promise.Promise, lval string) []string {
	rv, ok := constraint(p, lval)
	if !ok || rv.Kind != promise.KindList {
		return nil
	}
	out := make([]string, 0, len(rv.List))
	for _, item := range rv.List {
		if item.Kind == promise.KindScalar {
			out = append(out, item.Scalar)
		}
	}
	return out
}
