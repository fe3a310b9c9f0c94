package builtin

import (
	"fmt"
	"time"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Classes actuates the "classes" promise-type: the promiser names the
// class to define. An optional "expression" constraint is itself a class
// expression that must evaluate true for the class to actually be set
// (the class-guard on the promise itself already gated whether this
// promise runs at all; "expression" lets one promise conditionally define
// several different classes based on the outcome of prior promises in the
// same pass). "scope" selects hard (default) vs soft (frame-local);
// "persist" is a duration string ("10m") that, whenever present, routes the
// class through ClassPutPersistent so it survives past this run, taking
// precedence over "scope".
type Classes struct{}

func (Classes) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	name := p.Promiser.Scalar
	if name == "" {
		return promise.FAIL, fmt.Errorf("classes: promiser name is empty")
	}

	if expr := stringConstraint(p, "expression", ""); expr != "" {
		ok, err := ctx.ClassIsDefined(expr)
		if err != nil {
			return promise.FAIL, fmt.Errorf("classes: expression %q: %w", expr, err)
		}
		if !ok {
			return promise.NOOP, nil
		}
	}

	if ctx.IsDefined(name) {
		return promise.NOOP, nil
	}
	if dryRun {
		return promise.WARN, nil
	}

	scope := stringConstraint(p, "scope", "hard")
	persist := stringConstraint(p, "persist", "")

	switch {
	case persist != "":
		ttl, err := time.ParseDuration(persist)
		if err != nil {
			return promise.FAIL, fmt.Errorf("classes: invalid persist duration %q: %w", persist, err)
		}
		policy := evalctx.ExpiryPreserve
		if stringConstraint(p, "persist_policy", "preserve") == "reset" {
			policy = evalctx.ExpiryReset
		}
		if err := ctx.ClassPutPersistent(name, nil, ttl, policy); err != nil {
			return promise.FAIL, fmt.Errorf("classes: persist %s: %w", name, err)
		}
	case scope == "soft":
		if err := ctx.ClassPutSoft(name, nil); err != nil {
			return promise.FAIL, fmt.Errorf("classes: soft %s: %w", name, err)
		}
	default:
		ctx.ClassPutHard(name, nil)
	}

	return promise.CHANGE, nil
}
