package evalctx

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/coldcfg/coldcfg/pkg/classalgebra"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Context is the stack of frames holding class sets, variable tables and
// iteration state for a single agent run. It also owns the
// process-wide hard class set and the `sys`/`const` system variable tables.
type Context struct {
	mu     sync.Mutex
	frames []*Frame

	Hard  *ClassSet
	Sys   *VarTable
	Const *VarTable
	Mon   *VarTable
	Match *VarTable // regex capture groups from the most recent match, if any

	// Persist is an optional sink for persistent classes (C7-backed); nil
	// disables persistence (e.g. during --dry-run preview evaluation).
	Persist PersistentClassStore
}

// PersistentClassStore is the narrow interface the context needs from the
// KV store (pkg/kvstore) to back class_put_persistent without an import
// cycle between evalctx and kvstore.
type PersistentClassStore interface {
	PutClass(name string, tags map[string]string, ttl time.Duration, policy ExpiryPolicy) error
	IsClassDefined(name string) (bool, error)
}

// New creates an empty context with empty sys/const/mon/match scope tables
// (pkg/facts fills sys).
func New() *Context {
	return &Context{
		Hard:  NewClassSet(),
		Sys:   NewVarTable(),
		Const: NewVarTable(),
		Mon:   NewVarTable(),
		Match: NewVarTable(),
	}
}

// PushFrame pushes a new frame of the given kind onto the stack.
func (c *Context) PushFrame(kind FrameKind, ref, namespace, bundle string) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := newFrame(kind, ref, namespace, bundle)
	c.frames = append(c.frames, f)
	return f
}

// PopFrame pops the innermost frame, asserting its kind matches want.
func (c *Context) PopFrame(want FrameKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return fmt.Errorf("pop_frame: stack empty, expected %s", want)
	}
	top := c.frames[len(c.frames)-1]
	if top.Kind != want {
		return fmt.Errorf("pop_frame: top frame is %s, expected %s", top.Kind, want)
	}
	c.frames = c.frames[:len(c.frames)-1]
	return nil
}

// Top returns the innermost frame, or nil if the stack is empty.
func (c *Context) Top() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

// framesInnerToOuter returns a snapshot of the frame stack, innermost first.
func (c *Context) framesInnerToOuter() []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Frame, len(c.frames))
	for i, f := range c.frames {
		out[len(c.frames)-1-i] = f
	}
	return out
}

// VariablePut writes to the innermost frame of the matching scope.
// scope is one of "this" (innermost iteration/promise frame), "bundle"
// (innermost bundle frame), or "" (innermost frame of any kind).
func (c *Context) VariablePut(scope, name string, v Variable) error {
	frames := c.framesInnerToOuter()
	switch scope {
	case "this":
		for _, f := range frames {
			if f.Kind == FrameIteration || f.Kind == FramePromise {
				f.Vars.Put(name, v)
				return nil
			}
		}
		return &ErrScopeAbsent{Scope: "this"}
	case "bundle":
		for _, f := range frames {
			if f.Kind == FrameBundle {
				f.Vars.Put(name, v)
				return nil
			}
		}
		return &ErrScopeAbsent{Scope: "bundle"}
	default:
		if len(frames) == 0 {
			return &ErrScopeAbsent{Scope: "<top>"}
		}
		frames[0].Vars.Put(name, v)
		return nil
	}
}

// VariableGet searches inner-to-outer, then falls back to the special
// scopes this/sys/const/mon/match by table prefix.
func (c *Context) VariableGet(ref string) (Variable, bool) {
	ns, scope, name := splitRef(ref)
	_ = ns
	switch scope {
	case "sys":
		return c.Sys.Get(name)
	case "const":
		return c.Const.Get(name)
	case "mon":
		return c.Mon.Get(name)
	case "match":
		return c.Match.Get(name)
	}
	for _, f := range c.framesInnerToOuter() {
		if v, ok := f.Vars.Get(ref); ok {
			return v, ok
		}
		if v, ok := f.Vars.Get(name); ok {
			return v, ok
		}
	}
	return Variable{}, false
}

// splitRef splits a fully-qualified reference `namespace:scope.name` into
// its namespace, scope (bundle name or special scope), and bare name.
func splitRef(ref string) (namespace, scope, name string) {
	rest := ref
	if i := indexByte(rest, ':'); i >= 0 {
		namespace = rest[:i]
		rest = rest[i+1:]
	}
	if i := indexByte(rest, '.'); i >= 0 {
		scope = rest[:i]
		name = rest[i+1:]
		return
	}
	return namespace, "", rest
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// ClassPutHard adds a process-wide hard class.
func (c *Context) ClassPutHard(name string, tags map[string]string) {
	c.Hard.Put(name, tags, 0, ExpiryPreserve)
}

// ClassPutSoft adds a class scoped to the innermost frame.
func (c *Context) ClassPutSoft(name string, tags map[string]string) error {
	frames := c.framesInnerToOuter()
	if len(frames) == 0 {
		return &ErrScopeAbsent{Scope: "<top>"}
	}
	frames[0].SoftClass.Put(name, tags, 0, ExpiryPreserve)
	return nil
}

// ClassPutPersistent adds a class with a TTL, durable across runs via the
// injected PersistentClassStore (C7). If no store is attached the class is
// kept only in the hard set for the remainder of this run.
func (c *Context) ClassPutPersistent(name string, tags map[string]string, ttl time.Duration, policy ExpiryPolicy) error {
	c.Hard.Put(name, tags, ttl, policy)
	if c.Persist != nil {
		return c.Persist.PutClass(name, tags, ttl, policy)
	}
	return nil
}

// IsDefined implements classalgebra.Lookup: a class is defined if it is
// live in the hard set or in any soft set on the current frame stack.
func (c *Context) IsDefined(name string) bool {
	if c.Hard.Is(name) {
		return true
	}
	for _, f := range c.framesInnerToOuter() {
		if f.SoftClass.Is(name) {
			return true
		}
	}
	if c.Persist != nil {
		if ok, err := c.Persist.IsClassDefined(name); err == nil && ok {
			return true
		}
	}
	return false
}

// CountMatching implements classalgebra.Lookup.
func (c *Context) CountMatching(re *regexp.Regexp) int {
	seen := make(map[string]bool)
	for _, n := range c.Hard.Names() {
		if re.MatchString(n) {
			seen[n] = true
		}
	}
	for _, f := range c.framesInnerToOuter() {
		for _, n := range f.SoftClass.Names() {
			if re.MatchString(n) {
				seen[n] = true
			}
		}
	}
	return len(seen)
}

// ClassIsDefined evaluates a class expression against this context,
// delegating parsing and boolean evaluation to classalgebra (C5).
func (c *Context) ClassIsDefined(expr string) (bool, error) {
	return classalgebra.Eval(expr, c)
}

var _ classalgebra.Lookup = (*Context)(nil)

// ThisBinding sets the standard `this.*` keys on the innermost iteration or
// promise frame: promiser, promise_filename, promise_dirname, handle.
func (c *Context) ThisBinding(promiser, filename, dirname, handle string) error {
	v := func(s string) Variable { return Variable{Value: promise.Scalar(s), Type: promise.TypeString} }
	if err := c.VariablePut("this", "promiser", v(promiser)); err != nil {
		return err
	}
	if err := c.VariablePut("this", "promise_filename", v(filename)); err != nil {
		return err
	}
	if err := c.VariablePut("this", "promise_dirname", v(dirname)); err != nil {
		return err
	}
	return c.VariablePut("this", "handle", v(handle))
}
