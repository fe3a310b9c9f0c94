// Package dispatch implements the Promise Dispatcher (C4): class-guard
// check, body inheritance, iteration, expansion, actuation, and outcome
// aggregation.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Actuator materializes a promise of one promise-type into system changes.
// Implementations MUST be idempotent and MUST return WARN rather than
// mutate state when dryRun is true. Native actuators live in pkg/actuate/builtin; out-of-tree
// actuators are bridged through pkg/actuate/wasmhost.
type Actuator interface {
	// Actuate runs the actuator against an already class-guarded,
	// body-inherited, expanded promise for the current iteration.
	Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error)
}

// ActuatorFunc adapts a plain function to the Actuator interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type ActuatorFunc func(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error)

func (f ActuatorFunc) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	return f(ctx, p, dryRun)
}

// CapabilityTable is the registry of actuators keyed by promise-type,
// grounded on pkg/providers/host.Registry (register/get/list
// over a name key, protected by a single mutex).
type CapabilityTable struct {
	mu        sync.RWMutex
	actuators map[string]Actuator
}

// NewCapabilityTable allocates an empty table.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{actuators: make(map[string]Actuator)}
}

// Register binds an actuator to a promise-type, replacing any existing
// binding — out-of-tree WASM actuators registered via manifest can shadow
// a built-in of the same name.
func (c *CapabilityTable) Register(promiseType string, a Actuator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actuators[promiseType] = a
}

// Unregister removes a binding.
func (c *CapabilityTable) Unregister(promiseType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.actuators, promiseType)
}

// Get looks up the actuator for a promise-type.
func (c *CapabilityTable) Get(promiseType string) (Actuator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actuators[promiseType]
	return a, ok
}

// List returns every registered promise-type, for diagnostics and `cf-promises`-style introspection.
func (c *CapabilityTable) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.actuators))
	for k := range c.actuators {
		out = append(out, k)
	}
	return out
}

// ErrNoActuator is returned when a promise-type has no registered actuator.
type ErrNoActuator struct{ PromiseType string }

func (e *ErrNoActuator) Error() string {
	return fmt.Sprintf("dispatch: no actuator registered for promise-type %q", e.PromiseType)
}
