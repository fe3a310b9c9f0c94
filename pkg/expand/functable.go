package expand

import (
	"fmt"
	"sync"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Func implements one built-in function. Arguments arrive already expanded.
type Func func(ctx *evalctx.Context, args []promise.Rval) (promise.Rval, error)

// FuncEntry declares a function's arity (MinArgs/MaxArgs, MaxArgs<0 means
// unbounded) alongside its implementation.
type FuncEntry struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      Func
}

// Call validates arity and invokes the function.
func (e FuncEntry) Call(ctx *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	if len(args) < e.MinArgs || (e.MaxArgs >= 0 && len(args) > e.MaxArgs) {
		return promise.Empty, fmt.Errorf("function %q: wrong number of arguments (got %d)", e.Name, len(args))
	}
	return e.Fn(ctx, args)
}

// FuncTable is the single table every built-in and policy-registered
// function is looked up in during expansion.
type FuncTable struct {
	mu      sync.RWMutex
	entries map[string]FuncEntry
}

// NewFuncTable allocates an empty table; callers typically populate it via
// pkg/expand/functions.Register.
func NewFuncTable() *FuncTable {
	return &FuncTable{entries: make(map[string]FuncEntry)}
}

// Register adds or replaces an entry.
func (t *FuncTable) Register(e FuncEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Name] = e
}

// Lookup finds an entry by name.
func (t *FuncTable) Lookup(name string) (FuncEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

// MapExemptFromWheelMangling lists the three map-family functions exempt
// from iterator-discovery pre-mangling so the iteration engine
// (pkg/iterate) can consult it without a reverse import.
var MapExemptFromWheelMangling = map[string]bool{
	"maplist": true,
	"mapdata": true,
	"maparray": true,
}
