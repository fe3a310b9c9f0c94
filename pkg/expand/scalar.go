package expand

import (
	"encoding/json"
	"fmt"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// ExpandScalar rewrites str by replacing every well-formed reference with
// the value of the variable it names, recursively expanding the reference's
// own contents first (depth-first). A reference that still fails to
// resolve after its contents are expanded is left verbatim, unresolved, so
// a later pass can retry it.
func ExpandScalar(ctx *evalctx.Context, str string) string {
	refs := findReferences(str)
	if len(refs) == 0 {
		return str
	}
	var out []byte
	last := 0
	for _, r := range refs {
		out = append(out, str[last:r.start]...)
		inner := ExpandScalar(ctx, r.inner)
		resolved, ok := resolveOne(ctx, inner)
		if ok {
			out = append(out, resolved...)
		} else {
			// Preserve original syntax verbatim, with the inner part
			// left in its (possibly partially) expanded form.
			out = append(out, r.sigil, r.open)
			out = append(out, inner...)
			if r.open == '{' {
				out = append(out, '}')
			} else {
				out = append(out, ')')
			}
		}
		last = r.end
	}
	out = append(out, str[last:]...)
	return string(out)
}

// resolveOne looks up a single reference name (already expanded) and
// stringifies it per the container-leaf rule: a primitive leaf stringifies
// to its JSON primitive representation; a non-primitive leaves the
// reference unresolved (the caller preserves the original syntax).
func resolveOne(ctx *evalctx.Context, name string) (string, bool) {
	v, ok := ctx.VariableGet(name)
	if !ok {
		return "", false
	}
	switch v.Value.Kind {
	case promise.KindScalar:
		return v.Value.Scalar, true
	case promise.KindContainer:
		return stringifyPrimitive(v.Value.Container)
	default:
		// Lists and function-calls are not directly stringifiable; a
		// naked reference is the caller's job to detect before this point.
		return "", false
	}
}

func stringifyPrimitive(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64, int, int64:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// ExpandRval dispatches on rval.Kind: scalar through
// ExpandScalar; list element-wise, inlining naked @(x) list entries;
// function-call by evaluating arguments then applying the builtin table;
// container by deep copy.
func ExpandRval(ctx *evalctx.Context, fns *FuncTable, rval promise.Rval) (promise.Rval, error) {
	switch rval.Kind {
	case promise.KindScalar:
		return promise.Scalar(ExpandScalar(ctx, rval.Scalar)), nil
	case promise.KindList:
		return expandList(ctx, fns, rval)
	case promise.KindFnCall:
		return applyFunc(ctx, fns, rval)
	case promise.KindContainer:
		return promise.Container(deepCopy(rval.Container)), nil
	default:
		return promise.Empty, nil
	}
}

func expandList(ctx *evalctx.Context, fns *FuncTable, rval promise.Rval) (promise.Rval, error) {
	out := make([]promise.Rval, 0, len(rval.List))
	for _, item := range rval.List {
		if item.Kind == promise.KindScalar {
			if name, ok := IsNaked(item.Scalar); ok {
				expandedName := ExpandScalar(ctx, name)
				if v, found := ctx.VariableGet(expandedName); found && v.Value.Kind == promise.KindList {
					out = append(out, v.Value.List...)
					continue
				}
			}
		}
		exp, err := ExpandRval(ctx, fns, item)
		if err != nil {
			return promise.Empty, err
		}
		out = append(out, exp)
	}
	return promise.List(out...), nil
}

func applyFunc(ctx *evalctx.Context, fns *FuncTable, rval promise.Rval) (promise.Rval, error) {
	args := make([]promise.Rval, len(rval.FnArgs))
	for i, a := range rval.FnArgs {
		exp, err := ExpandRval(ctx, fns, a)
		if err != nil {
			return promise.Empty, err
		}
		args[i] = exp
	}
	entry, ok := fns.Lookup(rval.FnName)
	if !ok {
		return promise.Empty, fmt.Errorf("unknown function %q", rval.FnName)
	}
	return entry.Call(ctx, args)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}

// ResolveDataOrListReference implements the "data-or-list reference" rule
//: a scalar matching `@(<refish>$(…)<refish>)` is first
// expanded as a scalar, then the result is re-interpreted as a reference —
// this is what makes `@($(varname))` behave as a dereference.
func ResolveDataOrListReference(ctx *evalctx.Context, rawScalar string) (promise.Rval, bool) {
	refs := findReferences(rawScalar)
	if len(refs) != 1 || !refs[0].naked || refs[0].start != 0 || refs[0].end != len(rawScalar) {
		return promise.Empty, false
	}
	resolvedName := ExpandScalar(ctx, refs[0].inner)
	v, found := ctx.VariableGet(resolvedName)
	if !found {
		return promise.Empty, false
	}
	return v.Value, true
}
