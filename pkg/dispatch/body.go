package dispatch

import (
	"fmt"

	"github.com/coldcfg/coldcfg/pkg/promise"
)

// bodyColor marks DFS visitation state for cycle detection, adapted from
// pkg/engine.DAGBuilder.detectCycles — repurposed here for
// body-inheritance cycles rather than a global promise-execution plan
//.
type bodyColor int

const (
	white bodyColor = iota
	gray
	black
)

// DetectInheritanceCycle walks every body's inherit_from chain and fails
// if any cycle is found, at policy-load time.
func DetectInheritanceCycle(idx map[string]*promise.Body) error {
	colors := make(map[string]bodyColor, len(idx))
	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		switch colors[key] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("body inheritance cycle detected: %v -> %s", path, key)
		}
		colors[key] = gray
		if b, ok := idx[key]; ok {
			for _, parent := range b.InheritsFrom {
				parentKey := bodyKeyFor(b.Namespace, b.Type, parent)
				if err := visit(parentKey, append(path, key)); err != nil {
					return err
				}
			}
		}
		colors[key] = black
		return nil
	}
	for key := range idx {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

func bodyKeyFor(ns, typ, name string) string { return ns + ":" + typ + "/" + name }

// ResolveBodyConstraints flattens a body's inherit_from chain, oldest-first,
// so each ancestor's constraints are applied before the body's own (later
// attributes override earlier ones, spec §4.4 step 2).
func ResolveBodyConstraints(idx map[string]*promise.Body, b *promise.Body) []promise.Constraint {
	merged := make(map[string]promise.Constraint)
	var order []string

	var apply func(body *promise.Body)
	apply = func(body *promise.Body) {
		for _, parent := range body.InheritsFrom {
			if pb, ok := idx[bodyKeyFor(body.Namespace, body.Type, parent)]; ok {
				apply(pb)
			}
		}
		for _, c := range body.Constraints {
			if _, exists := merged[c.Lval]; !exists {
				order = append(order, c.Lval)
			}
			merged[c.Lval] = c
		}
	}
	apply(b)

	out := make([]promise.Constraint, len(order))
	for i, lval := range order {
		out[i] = merged[lval]
	}
	return out
}

// InlineBodyReferences deep-copies p, and for every constraint whose rval is
// a function-call naming a known body of the promise's type, inlines that
// body's (inheritance-resolved) constraints in place of the reference —
// later appearances in the promise's own constraint list still win over
// an inlined body attribute of the same lval.
func InlineBodyReferences(p promise.Promise, idx map[string]*promise.Body, namespace string) promise.Promise {
	merged := make(map[string]promise.Constraint)
	var order []string

	put := func(c promise.Constraint) {
		if _, exists := merged[c.Lval]; !exists {
			order = append(order, c.Lval)
		}
		merged[c.Lval] = c
	}

	for _, c := range p.Constraints {
		if c.Rval.Kind == promise.KindFnCall {
			if b, ok := idx[bodyKeyFor(namespace, p.PromiseType, c.Rval.FnName)]; ok {
				for _, inherited := range ResolveBodyConstraints(idx, b) {
					put(inherited)
				}
				continue
			}
		}
		put(c)
	}

	out := p
	out.Constraints = make([]promise.Constraint, len(order))
	for i, lval := range order {
		out.Constraints[i] = merged[lval]
	}
	return out
}
