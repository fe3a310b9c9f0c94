package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Commands actuates the "commands" promise-type: the promiser is a shell
// command line, adapted from ExecHandler, run as `<shell> -c <command>`.
// Commands are not idempotency-checked by nature, so every pass that runs
// the command reports CHANGE when it exits zero and FAIL otherwise;
// callers that need idempotence should guard with ifelapsed.
type Commands struct{}

func (Commands) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	command := p.Promiser.Scalar
	if command == "" {
		return promise.FAIL, fmt.Errorf("commands: promiser is empty")
	}
	if dryRun {
		return promise.WARN, nil
	}

	shell := stringConstraint(p, "shell", "/bin/sh")
	workDir := stringConstraint(p, "chdir", "")
	timeoutStr := stringConstraint(p, "timeout", "")

	runCtx := context.Background()
	var cancel context.CancelFunc
	if timeoutStr != "" {
		d, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return promise.FAIL, fmt.Errorf("commands: invalid timeout %q: %w", timeoutStr, err)
		}
		runCtx, cancel = context.WithTimeout(runCtx, d)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return promise.FAIL, fmt.Errorf("commands: %q exited %d: %s", command, exitErr.ExitCode(), stderr.String())
		}
		return promise.FAIL, fmt.Errorf("commands: run %q: %w", command, err)
	}

	return promise.CHANGE, nil
}
