// Package wasmhost bridges out-of-tree actuators compiled to WASM into the
// dispatcher's capability table, grounded on
// pkg/providers/host.WASMBridge's memory-management and JSON-over-linear-
// memory calling convention, but re-targeted from that package's
// init/read/plan/apply/destroy CRUD provider contract onto the single
// Actuate(promise) -> outcome contract every promise-type actuator shares
// (§4.4). The host-side plumbing (malloc/free, packed pointer/length
// return value, context-bounded calls) is unchanged; what moved is the
// shape of the payload crossing the boundary.
package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Bridge wraps one instantiated WASM module exporting the actuator ABI:
// malloc(size) -> ptr, free(ptr), and actuate(ptr, len) -> packed(ptr, len).
type Bridge struct {
	module  api.Module
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	actuate api.Function
	timeout time.Duration
}

// NewBridge wraps an instantiated module, verifying it exports the
// required ABI surface.
func NewBridge(module api.Module, timeout time.Duration) (*Bridge, error) {
	b := &Bridge{module: module, timeout: timeout}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("wasmhost: module does not export memory")
	}
	for name, slot := range map[string]*api.Function{
		"malloc":  &b.malloc,
		"free":    &b.free,
		"actuate": &b.actuate,
	} {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("wasmhost: module does not export %q", name)
		}
		*slot = fn
	}
	return b, nil
}

// actuateRequest is the JSON payload passed into the WASM guest: the
// expanded promise plus the dry-run flag (governance and class-guard
// checks already happened host-side, per §4.4 — the guest only actuates).
type actuateRequest struct {
	PromiseType string               `json:"promiseType"`
	Promiser    string               `json:"promiser"`
	Constraints map[string]promise.Rval `json:"constraints"`
	DryRun      bool                 `json:"dryRun"`
}

type actuateResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Actuate implements dispatch.Actuator by marshalling the promise to JSON,
// invoking the guest's actuate export, and translating its response.
func (b *Bridge) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	constraints := make(map[string]promise.Rval, len(p.Constraints))
	for _, c := range p.Constraints {
		constraints[c.Lval] = c.Rval
	}
	reqJSON, err := json.Marshal(actuateRequest{
		PromiseType: p.PromiseType,
		Promiser:    p.Promiser.String(),
		Constraints: constraints,
		DryRun:      dryRun,
	})
	if err != nil {
		return promise.FAIL, fmt.Errorf("wasmhost: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	out, err := b.call(callCtx, reqJSON)
	if err != nil {
		return promise.FAIL, fmt.Errorf("wasmhost: actuate call: %w", err)
	}

	var resp actuateResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return promise.FAIL, fmt.Errorf("wasmhost: unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return promise.FAIL, fmt.Errorf("wasmhost: guest reported error: %s", resp.Error)
	}
	return parseOutcome(resp.Outcome), nil
}

func parseOutcome(s string) promise.Outcome {
	switch s {
	case "NOOP":
		return promise.NOOP
	case "SKIPPED":
		return promise.SKIPPED
	case "CHANGE":
		return promise.CHANGE
	case "WARN":
		return promise.WARN
	case "DENIED":
		return promise.DENIED
	default:
		return promise.FAIL
	}
}

// call implements the packed-pointer calling convention: allocate guest
// memory for the input, call actuate(ptr, len), unpack the
// (output_ptr<<32)|output_len result, read it back, and free both buffers.
func (b *Bridge) call(ctx context.Context, input []byte) ([]byte, error) {
	var inPtr, inLen uint32
	if len(input) > 0 {
		ptr, err := b.alloc(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.dealloc(ctx, ptr)
		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("wasmhost: failed to write guest memory")
		}
		inPtr, inLen = ptr, uint32(len(input))
	}

	results, err := b.actuate.Call(ctx, uint64(inPtr), uint64(inLen))
	if err != nil {
		return nil, fmt.Errorf("wasmhost: guest call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("wasmhost: guest returned no results")
	}
	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xFFFFFFFF)
	if outLen == 0 {
		return []byte(`{"outcome":"NOOP"}`), nil
	}
	out, ok := b.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("wasmhost: failed to read guest memory")
	}
	result := make([]byte, len(out))
	copy(result, out)
	_ = b.dealloc(ctx, outPtr)
	return result, nil
}

func (b *Bridge) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("wasmhost: malloc failed: %w", err)
	}
	return uint32(results[0]), nil
}

func (b *Bridge) dealloc(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	return err
}

// runtimeConfig is exposed so Host can tune wazero's cache/compilation
// behavior without callers importing wazero directly.
func runtimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
}
