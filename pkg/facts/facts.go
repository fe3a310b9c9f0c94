// Package facts discovers local system facts and populates an evaluation
// context's sys table and hard classes with them, the way a CFEngine agent
// seeds sys.* variables and OS hard classes before the first pass runs.
package facts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Collector gathers one namespace of facts about the local host.
type Collector interface {
	Namespace() string
	Collect(ctx context.Context) (map[string]string, error)
}

// Registry holds the collectors run at context creation, in registration
// order.
type Registry struct {
	collectors []Collector
}

// NewRegistry builds a registry with the default OS/CPU/memory/network
// collectors, the bundle every agent run needs regardless of policy content.
func NewRegistry() *Registry {
	return &Registry{
		collectors: []Collector{
			osCollector{},
			cpuCollector{},
			memoryCollector{},
			networkCollector{},
		},
	}
}

// Register adds an additional collector, e.g. a site-specific namespace.
func (r *Registry) Register(c Collector) {
	r.collectors = append(r.collectors, c)
}

// Populate runs every collector and writes each key=value pair into ectx's
// sys scope as "namespace_key", plus one hard class per namespace signalling
// it ran (`<namespace>_discovered`, e.g. `os_discovered`) for class guards.
func (r *Registry) Populate(ctx context.Context, ectx *evalctx.Context) error {
	now := time.Now()
	ectx.Sys.Put("date_now", evalctx.Variable{
		Value: promise.Scalar(now.Format(time.RFC3339)),
		Type:  promise.TypeString,
	})

	for _, c := range r.collectors {
		vals, err := c.Collect(ctx)
		if err != nil {
			continue
		}
		for k, v := range vals {
			name := c.Namespace() + "_" + k
			ectx.Sys.Put(name, evalctx.Variable{
				Value: promise.Scalar(v),
				Type:  promise.TypeString,
			})
		}
		ectx.ClassPutHard(c.Namespace()+"_discovered", nil)
	}
	return nil
}

type osCollector struct{}

func (osCollector) Namespace() string { return "os" }

func (osCollector) Collect(ctx context.Context) (map[string]string, error) {
	out := map[string]string{
		"arch": runtime.GOARCH,
		"goos": runtime.GOOS,
	}
	if hn, err := os.Hostname(); err == nil {
		out["hostname"] = hn
	}
	if f, err := os.Open("/etc/os-release"); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if id, ok := strings.CutPrefix(line, "ID="); ok {
				out["family"] = strings.Trim(id, `"`)
			}
			if ver, ok := strings.CutPrefix(line, "VERSION_ID="); ok {
				out["version"] = strings.Trim(ver, `"`)
			}
		}
		f.Close()
	}
	if kernel, err := runCmd(ctx, "uname", "-r"); err == nil {
		out["kernel"] = kernel
	}
	return out, nil
}

type cpuCollector struct{}

func (cpuCollector) Namespace() string { return "cpu" }

func (cpuCollector) Collect(ctx context.Context) (map[string]string, error) {
	return map[string]string{
		"cores": strconv.Itoa(runtime.NumCPU()),
	}, nil
}

type memoryCollector struct{}

func (memoryCollector) Namespace() string { return "mem" }

func (memoryCollector) Collect(ctx context.Context) (map[string]string, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			out["total_kb"] = fields[1]
		case "MemAvailable:":
			out["available_kb"] = fields[1]
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("facts: no meminfo fields parsed")
	}
	return out, nil
}

type networkCollector struct{}

func (networkCollector) Namespace() string { return "net" }

func (networkCollector) Collect(ctx context.Context) (map[string]string, error) {
	ifaces, err := netInterfaces()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for i, addr := range ifaces {
		out[fmt.Sprintf("iface_%d", i)] = addr
	}
	out["iface_count"] = strconv.Itoa(len(ifaces))
	return out, nil
}

func runCmd(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
