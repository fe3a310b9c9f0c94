package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Packages actuates the "packages" promise-type: the promiser is a package
// name, adapted from PkgEnsureHandler across apt/dnf/yum/
// zypper. "policy" selects present (default)/absent/latest; "version" pins
// an exact version for policy=present.
type Packages struct{}

func (Packages) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	name := p.Promiser.Scalar
	if name == "" {
		return promise.FAIL, fmt.Errorf("packages: promiser name is empty")
	}
	policy := stringConstraint(p, "policy", "present")
	version := stringConstraint(p, "version", "")

	manager := stringConstraint(p, "manager", "")
	if manager == "" {
		var err error
		manager, err = detectPackageManager()
		if err != nil {
			return promise.FAIL, fmt.Errorf("packages: %w", err)
		}
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	installed, current, err := queryPackage(timeoutCtx, manager, name)
	if err != nil {
		return promise.FAIL, fmt.Errorf("packages: query %s: %w", name, err)
	}

	switch policy {
	case "absent":
		if !installed {
			return promise.NOOP, nil
		}
		if dryRun {
			return promise.WARN, nil
		}
		if err := runPkg(timeoutCtx, manager, "remove", name); err != nil {
			return promise.FAIL, err
		}
	case "latest":
		if dryRun {
			return promise.WARN, nil
		}
		verb := "install"
		if installed {
			verb = "upgrade"
		}
		if err := runPkg(timeoutCtx, manager, verb, name); err != nil {
			return promise.FAIL, err
		}
	default: // present
		if installed && (version == "" || current == version) {
			return promise.NOOP, nil
		}
		if dryRun {
			return promise.WARN, nil
		}
		spec := name
		if version != "" {
			spec = name + "=" + version
		}
		if err := runPkg(timeoutCtx, manager, "install", spec); err != nil {
			return promise.FAIL, err
		}
	}
	return promise.CHANGE, nil
}

func queryPackage(ctx context.Context, manager, name string) (installed bool, version string, err error) {
	var cmd *exec.Cmd
	switch manager {
	case "apt":
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	case "dnf", "yum", "zypper":
		cmd = exec.CommandContext(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	default:
		return false, "", fmt.Errorf("unsupported package manager %q", manager)
	}
	out, err := cmd.Output()
	if err != nil {
		return false, "", nil
	}
	return true, strings.TrimSpace(string(out)), nil
}

func runPkg(ctx context.Context, manager, verb, spec string) error {
	var args []string
	switch manager {
	case "apt":
		args = []string{verb, "-y", spec}
	case "dnf", "yum":
		args = []string{verb, "-y", spec}
	case "zypper":
		if verb == "upgrade" {
			verb = "update"
		}
		args = []string{verb, "-y", spec}
	default:
		return fmt.Errorf("unsupported package manager %q", manager)
	}
	cmd := exec.CommandContext(ctx, manager, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", manager, args, err, out)
	}
	return nil
}

func detectPackageManager() (string, error) {
	for _, mgr := range []string{"apt", "dnf", "yum", "zypper"} {
		if _, err := exec.LookPath(mgr); err == nil {
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found on PATH")
}
