// Package evalctx implements the Evaluation Context: the stack of frames
// holding class sets, variable tables and iteration state that every other
// engine component reads and writes during a single agent run.
package evalctx

import "fmt"

// FrameKind names the five frame kinds a Context can push.
type FrameKind int

const (
	FrameBundle FrameKind = iota
	FrameSection
	FrameBody
	FramePromise
	FrameIteration
)

func (k FrameKind) String() string {
	switch k {
	case FrameBundle:
		return "bundle"
	case FrameSection:
		return "bundle-section"
	case FrameBody:
		return "body"
	case FramePromise:
		return "promise"
	case FrameIteration:
		return "promise-iteration"
	default:
		return "unknown"
	}
}

// Frame is one stack entry. Ref names the bundle/promise/body the frame
// belongs to, for diagnostics and for `this.promise_filename`-style lookups.
type Frame struct {
	Kind      FrameKind
	Ref       string
	Namespace string
	Bundle    string
	Vars      *VarTable
	SoftClass *ClassSet
	Iter      *IterState // non-nil only for FrameIteration
}

func newFrame(kind FrameKind, ref, namespace, bundle string) *Frame {
	return &Frame{
		Kind:      kind,
		Ref:       ref,
		Namespace: namespace,
		Bundle:    bundle,
		Vars:      NewVarTable(),
		SoftClass: NewClassSet(),
	}
}

// IterState is the per-iteration-frame binding snapshot populated by the
// iteration engine (pkg/iterate) before re-expansion; it backs the `this`
// special scope's iterator keys.
type IterState struct {
	Bindings map[string]string // mangled wheel key -> current tick value, stringified
	Index    []int             // current odometer position, one entry per wheel
}

// ErrScopeAbsent is returned by VariablePut when the requested scope has no
// matching frame on the stack.
type ErrScopeAbsent struct{ Scope string }

func (e *ErrScopeAbsent) Error() string {
	return fmt.Sprintf("SCOPE_ABSENT: no frame for scope %q", e.Scope)
}
