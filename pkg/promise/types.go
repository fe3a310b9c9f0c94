// Package promise defines the immutable data model loaded from policy
// source: bundles, bodies, promises, and the rvalue sum type. Nothing in
// this package mutates after the parser (pkg/parser) constructs it; all
// mutable evaluation state lives in pkg/evalctx.
package promise

import "fmt"

// Kind names the five rvalue variants.
type Kind int

const (
	KindEmpty Kind = iota
	KindScalar
	KindList
	KindFnCall
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindFnCall:
		return "function-call"
	case KindContainer:
		return "container"
	default:
		return "empty"
	}
}

// Rval is the tagged-union rvalue: scalar, list, function-call, container,
// or empty. Only the field matching Kind is meaningful.
type Rval struct {
	Kind      Kind
	Scalar    string
	List      []Rval
	FnName    string
	FnArgs    []Rval
	Container any // map[string]any / []any / primitives, from JSON/CUE decode
}

// Scalar builds a scalar rvalue.
func Scalar(s string) Rval { return Rval{Kind: KindScalar, Scalar: s} }

// List builds a list rvalue.
func List(items ...Rval) Rval { return Rval{Kind: KindList, List: items} }

// FnCall builds a function-call rvalue.
func FnCall(name string, args ...Rval) Rval {
	return Rval{Kind: KindFnCall, FnName: name, FnArgs: args}
}

// Container builds a container rvalue from a decoded JSON/CUE value.
func Container(v any) Rval { return Rval{Kind: KindContainer, Container: v} }

// Empty is the zero rvalue.
var Empty = Rval{Kind: KindEmpty}

func (r Rval) String() string {
	switch r.Kind {
	case KindScalar:
		return r.Scalar
	case KindList:
		return fmt.Sprintf("%v", r.List)
	case KindFnCall:
		return fmt.Sprintf("%s(%v)", r.FnName, r.FnArgs)
	case KindContainer:
		return fmt.Sprintf("%v", r.Container)
	default:
		return ""
	}
}

// VarType enumerates the allowed variable types.
type VarType string

const (
	TypeString    VarType = "string"
	TypeInt       VarType = "int"
	TypeReal      VarType = "real"
	TypeBool      VarType = "bool"
	TypeSlist     VarType = "slist"
	TypeRlist     VarType = "rlist"
	TypeContainer VarType = "container"
)

// SourceLocation pins a node back to the policy file it came from.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// Constraint is one `lval => rval` attribute of a promise or body.
type Constraint struct {
	Lval string
	Rval Rval
	Loc  SourceLocation
}

// Body is a named, typed attribute block inlined into promises via
// constraint references; bodies support `inherit_from` chains.
type Body struct {
	Name         string
	Namespace    string
	Type         string // the promise-type this body applies to, e.g. "perms"
	Params       []string
	Constraints  []Constraint
	InheritsFrom []string // names of bodies to inline oldest-first before these constraints
	Loc          SourceLocation
}

// Promise is a single declarative statement: the promiser should have the
// properties named by its constraints, subject to its class guard.
type Promise struct {
	ID          string // stable fingerprint-friendly identifier, assigned at parse time
	Handle      string // explicit `handle` constraint as written (the dispatcher canonicalizes it), or "" if absent
	PromiseType string // "vars", "classes", "files", "commands", "methods", ...
	Promiser    Rval
	Promisee    Rval // scalar or list; KindEmpty if absent
	ClassGuard  string
	Constraints []Constraint
	Loc         SourceLocation
}

// Section is an ordered list of promises under one promise-type within a bundle.
type Section struct {
	PromiseType string
	Promises    []Promise
}

// Bundle is an ordered named group of promise sections.
type Bundle struct {
	Name      string
	Namespace string
	Type      string // "common", "agent", "server", ...
	Params    []string
	Sections  []Section
	Loc       SourceLocation
}

// Policy is the rooted, immutable tree produced by the parser: an ordered
// sequence of bundles plus an ordered sequence of bodies.
type Policy struct {
	Bundles []Bundle
	Bodies  []Body
}

// BodyIndex looks up a body by namespace, type, and name, as needed when
// resolving a constraint's body reference or an inherit_from chain.
func (p *Policy) BodyIndex() map[string]*Body {
	idx := make(map[string]*Body, len(p.Bodies))
	for i := range p.Bodies {
		b := &p.Bodies[i]
		idx[bodyKey(b.Namespace, b.Type, b.Name)] = b
	}
	return idx
}

func bodyKey(ns, typ, name string) string { return ns + ":" + typ + "/" + name }

// NormalOrder is the promise-type evaluation order within a bundle.
var NormalOrder = []string{
	"meta", "vars", "classes", "users", "files", "packages",
	"commands", "methods", "services", "reports",
}
