package builtin

import (
	"fmt"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// varTypeLvals are the constraint names a vars promise may carry its value
// under; the first one present wins.
var varTypeLvals = []struct {
	lval string
	typ  promise.VarType
}{
	{"string", promise.TypeString},
	{"int", promise.TypeInt},
	{"real", promise.TypeReal},
	{"slist", promise.TypeSlist},
	{"rlist", promise.TypeRlist},
	{"data", promise.TypeContainer},
}

// Vars actuates the "vars" promise-type: the promiser is a variable name,
// and exactly one of string/int/real/slist/rlist/data constraints supplies
// its value, written into the scope named by the "scope" constraint
// (default "bundle"). Writing a variable is itself the mutation; there is
// no read-modify-compare step the way there is for files, so Vars reports
// NOOP when a visible variable of that name already holds the same value,
// and CHANGE whenever it writes (first definition or a different value).
type Vars struct{}

func (Vars) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	name := p.Promiser.Scalar
	if name == "" {
		return promise.FAIL, fmt.Errorf("vars: promiser name is empty")
	}

	var value promise.Rval
	var typ promise.VarType
	found := false
	for _, vt := range varTypeLvals {
		if rv, ok := constraint(p, vt.lval); ok {
			value, typ, found = rv, vt.typ, true
			break
		}
	}
	if !found {
		return promise.FAIL, fmt.Errorf("vars: promise %q supplies no recognized value constraint", name)
	}

	scope := stringConstraint(p, "scope", "bundle")

	if existing, ok := ctx.VariableGet(name); ok && existing.Value.String() == value.String() {
		return promise.NOOP, nil
	}
	if dryRun {
		return promise.WARN, nil
	}

	if err := ctx.VariablePut(scope, name, evalctx.Variable{Value: value, Type: typ}); err != nil {
		return promise.FAIL, fmt.Errorf("vars: put %s: %w", name, err)
	}
	return promise.CHANGE, nil
}
