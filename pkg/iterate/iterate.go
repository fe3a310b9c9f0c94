// Package iterate implements the Iteration Engine (C3): discovering
// iterable variables referenced by a promise and driving their
// cross-product in deterministic odometer order.
package iterate

import (
	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/expand"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Wheel is one axis of the odometer: a variable that resolved to a list or
// container, together with its tick values.
type Wheel struct {
	MangledKey string // unique per distinct referenced variable within this promise
	Name       string
	Values     []promise.Rval
}

// Iterator drives the cross-product enumeration for a single promise
// instance. Wheels are ordered outermost-first in registration order, so
// the last wheel added advances fastest.
type Iterator struct {
	wheels  []Wheel
	index   []int
	started bool
	empty   bool // true if any wheel has zero values: suppresses the whole promise
	always  bool // true if the promise contains an ifelse call (§4.3 special exception)
}

// Prepare walks every rvalue in the promise (promiser, promisee,
// constraints) and discovers wheels for every reference that currently
// resolves to a list or container. A single variable referenced more than
// once within the promise shares one mangled key so all its uses advance
// in lockstep.
func Prepare(ctx *evalctx.Context, p *promise.Promise) *Iterator {
	it := &Iterator{}
	seen := make(map[string]bool)

	walkRval(p.Promiser, it, ctx, seen)
	walkRval(p.Promisee, it, ctx, seen)
	for _, c := range p.Constraints {
		if c.Lval == "ifelse" {
			it.always = true
		}
		if c.Rval.Kind == promise.KindFnCall && c.Rval.FnName == "ifelse" {
			it.always = true
		}
		walkRval(c.Rval, it, ctx, seen)
	}

	it.index = make([]int, len(it.wheels))
	for _, w := range it.wheels {
		if len(w.Values) == 0 {
			it.empty = true
		}
	}
	return it
}

func walkRval(rv promise.Rval, it *Iterator, ctx *evalctx.Context, seen map[string]bool) {
	switch rv.Kind {
	case promise.KindScalar:
		for _, name := range expand.ReferencedNames(rv.Scalar) {
			addWheelIfListLike(it, ctx, seen, name)
		}
	case promise.KindList:
		for _, item := range rv.List {
			walkRval(item, it, ctx, seen)
		}
	case promise.KindFnCall:
		// The three map-family functions are exempt from iterator
		// pre-mangling so their inner variable binding order is
		// preserved; skip discovering wheels inside them.
		if expand.MapExemptFromWheelMangling[rv.FnName] {
			return
		}
		for _, a := range rv.FnArgs {
			walkRval(a, it, ctx, seen)
		}
	}
}

func addWheelIfListLike(it *Iterator, ctx *evalctx.Context, seen map[string]bool, name string) {
	if seen[name] {
		return
	}
	v, ok := ctx.VariableGet(name)
	if !ok {
		return // unresolvable reference does not add a wheel
	}
	switch v.Value.Kind {
	case promise.KindList:
		seen[name] = true
		it.wheels = append(it.wheels, Wheel{MangledKey: mangle(name), Name: name, Values: v.Value.List})
	case promise.KindContainer:
		if items, ok := v.Value.Container.([]any); ok {
			seen[name] = true
			values := make([]promise.Rval, len(items))
			for i, raw := range items {
				values[i] = promise.Container(raw)
			}
			it.wheels = append(it.wheels, Wheel{MangledKey: mangle(name), Name: name, Values: values})
		}
	}
}

func mangle(name string) string { return "wheel:" + name }

// Next advances to the next cross-product tuple in odometer order:
// the last-registered wheel is innermost and advances fastest. It returns
// false once every combination has been produced.
//
// An empty wheel suppresses the whole promise outright. The `ifelse`
// special exception still grants exactly one iteration even
// when there are no wheels or a wheel would otherwise produce zero steps.
func (it *Iterator) Next(ctx *evalctx.Context) bool {
	if it.empty {
		if it.always && !it.started {
			it.started = true
			return true
		}
		return false
	}
	if len(it.wheels) == 0 {
		if !it.started {
			it.started = true
			return true
		}
		return false
	}
	if !it.started {
		it.started = true
		it.bindCurrent(ctx)
		return true
	}
	// Odometer increment: innermost (last) wheel first.
	for i := len(it.wheels) - 1; i >= 0; i-- {
		it.index[i]++
		if it.index[i] < len(it.wheels[i].Values) {
			it.bindCurrent(ctx)
			return true
		}
		it.index[i] = 0
	}
	return false
}

// bindCurrent writes the current tick value of every wheel into the
// `this` scope (the innermost iteration or promise frame), under each
// wheel's bare name. Nothing is bound when no such frame is on the stack.
func (it *Iterator) bindCurrent(ctx *evalctx.Context) {
	for i, w := range it.wheels {
		val := w.Values[it.index[i]]
		ctx.VariablePut("this", w.Name, evalctx.Variable{Value: val, Type: inferType(val)})
	}
}

func inferType(v promise.Rval) promise.VarType {
	switch v.Kind {
	case promise.KindList:
		return promise.TypeSlist
	case promise.KindContainer:
		return promise.TypeContainer
	default:
		return promise.TypeString
	}
}

// WheelCount reports how many wheels were discovered, for diagnostics.
func (it *Iterator) WheelCount() int { return len(it.wheels) }

// IsEmpty reports whether iteration is suppressed by an empty wheel.
func (it *Iterator) IsEmpty() bool { return it.empty }
