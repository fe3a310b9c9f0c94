package wasmhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"gopkg.in/yaml.v3"

	"github.com/coldcfg/coldcfg/pkg/dispatch"
)

// Manifest describes one out-of-tree actuator provider, grounded on
// pkg/providers/host.Manifest's YAML shape, trimmed to the actuator
// contract: which promise-type(s) the module's `actuate` export handles.
type Manifest struct {
	Name         string   `yaml:"name"`
	WasmPath     string   `yaml:"wasmPath"`
	PromiseTypes []string `yaml:"promiseTypes"`
	TimeoutMS    int      `yaml:"timeoutMs"`
}

// Host owns the wazero runtime and every loaded module's lifetime.
type Host struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	closers []func(context.Context) error
}

// NewHost creates a wazero runtime with WASI preview1 wired in, the way
// most sandboxed-guest hosts in the ecosystem do for guests that expect a
// POSIX-ish environment (stdout/stderr, clock).
func NewHost(ctx context.Context) (*Host, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig())
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wasmhost: instantiate WASI: %w", err)
	}
	return &Host{runtime: rt}, nil
}

// LoadManifestDir reads every *.yaml manifest in dir, instantiates the
// referenced WASM module, and registers a Bridge actuator for each
// promise-type the manifest declares, shadowing any built-in of the same
// name per §4.8's capability table layering.
func (h *Host) LoadManifestDir(ctx context.Context, dir string, caps *dispatch.CapabilityTable) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wasmhost: read manifest dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		if err := h.loadOne(ctx, filepath.Join(dir, e.Name()), caps); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) loadOne(ctx context.Context, manifestPath string, caps *dispatch.CapabilityTable) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("wasmhost: read manifest %s: %w", manifestPath, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("wasmhost: parse manifest %s: %w", manifestPath, err)
	}
	if m.TimeoutMS == 0 {
		m.TimeoutMS = 5000
	}

	wasmBytes, err := os.ReadFile(resolvePath(filepath.Dir(manifestPath), m.WasmPath))
	if err != nil {
		return fmt.Errorf("wasmhost: read module for %s: %w", m.Name, err)
	}

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("wasmhost: compile %s: %w", m.Name, err)
	}
	mod, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(m.Name))
	if err != nil {
		return fmt.Errorf("wasmhost: instantiate %s: %w", m.Name, err)
	}

	bridge, err := NewBridge(mod, time.Duration(m.TimeoutMS)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("wasmhost: bridge %s: %w", m.Name, err)
	}

	h.mu.Lock()
	h.closers = append(h.closers, mod.Close)
	h.mu.Unlock()

	for _, pt := range m.PromiseTypes {
		caps.Register(pt, bridge)
	}
	return nil
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Close tears down every instantiated module and the runtime itself.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	var firstErr error
	for _, c := range closers {
		if err := c(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.runtime.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
