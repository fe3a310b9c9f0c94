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

// Services actuates the "services" promise-type: the promiser is a
// systemd unit name, adapted from ServiceReloadHandler.
// "policy" selects started (default)/stopped/restarted/reloaded;
// "enable" is a bool constraint for unit-file enablement.
type Services struct{}

func (Services) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	name := p.Promiser.Scalar
	if name == "" {
		return promise.FAIL, fmt.Errorf("services: promiser name is empty")
	}
	policy := stringConstraint(p, "policy", "started")

	runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome := promise.NOOP

	active, enabled, err := serviceStatus(runCtx, name)
	if err != nil {
		return promise.FAIL, fmt.Errorf("services: status %s: %w", name, err)
	}

	switch policy {
	case "stopped":
		if active {
			if dryRun {
				return promise.WARN, nil
			}
			if err := systemctl(runCtx, "stop", name); err != nil {
				return promise.FAIL, err
			}
			outcome = promise.Aggregate(outcome, promise.CHANGE)
		}
	case "restarted":
		if dryRun {
			return promise.WARN, nil
		}
		if err := systemctl(runCtx, "restart", name); err != nil {
			return promise.FAIL, err
		}
		outcome = promise.Aggregate(outcome, promise.CHANGE)
	case "reloaded":
		if dryRun {
			return promise.WARN, nil
		}
		if err := systemctl(runCtx, "reload", name); err != nil {
			return promise.FAIL, err
		}
		outcome = promise.Aggregate(outcome, promise.CHANGE)
	default: // started
		if !active {
			if dryRun {
				return promise.WARN, nil
			}
			if err := systemctl(runCtx, "start", name); err != nil {
				return promise.FAIL, err
			}
			outcome = promise.Aggregate(outcome, promise.CHANGE)
		}
	}

	if rv, ok := constraint(p, "enable"); ok && rv.Kind == promise.KindScalar {
		wantEnabled := rv.Scalar == "true"
		if wantEnabled != enabled {
			if dryRun {
				return promise.WARN, nil
			}
			verb := "enable"
			if !wantEnabled {
				verb = "disable"
			}
			if err := systemctl(runCtx, verb, name); err != nil {
				return promise.FAIL, err
			}
			outcome = promise.Aggregate(outcome, promise.CHANGE)
		}
	}

	return outcome, nil
}

func serviceStatus(ctx context.Context, name string) (active, enabled bool, err error) {
	out, _ := exec.CommandContext(ctx, "systemctl", "is-active", name).Output()
	active = strings.TrimSpace(string(out)) == "active"
	out, _ = exec.CommandContext(ctx, "systemctl", "is-enabled", name).Output()
	enabled = strings.TrimSpace(string(out)) == "enabled"
	return active, enabled, nil
}

func systemctl(ctx context.Context, verb, name string) error {
	cmd := exec.CommandContext(ctx, "systemctl", verb, name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl %s %s: %w: %s", verb, name, err, out)
	}
	return nil
}
