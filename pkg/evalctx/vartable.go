package evalctx

import (
	"sync"

	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Variable is a typed binding with optional provenance tags.
type Variable struct {
	Value promise.Rval
	Type  promise.VarType
	Tags  map[string]string
}

// VarTable holds the variable bindings local to one frame. Names are
// injective within a table; re-binding overwrites.
type VarTable struct {
	mu   sync.RWMutex
	vars map[string]Variable
}

// NewVarTable allocates an empty table.
func NewVarTable() *VarTable {
	return &VarTable{vars: make(map[string]Variable)}
}

// Put stores or overwrites a binding.
func (t *VarTable) Put(name string, v Variable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vars[name] = v
}

// Get looks up a binding local to this table only.
func (t *VarTable) Get(name string) (Variable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.vars[name]
	return v, ok
}

// Delete removes a binding, if present.
func (t *VarTable) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.vars, name)
}

// Names returns all bound names, for diagnostics and `load_into_map`-style dumps.
func (t *VarTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.vars))
	for k := range t.vars {
		names = append(names, k)
	}
	return names
}
