package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coldcfg/coldcfg/pkg/micro_runner/client"
	"github.com/coldcfg/coldcfg/pkg/micro_runner/protocol"
	"github.com/coldcfg/coldcfg/pkg/transports/ssh"
)

// sshTransport adapts an *ssh.SSHClient to client.Transport, letting the
// commands actuator drive the micro-runner helper on a remote host over
// the same SSH connection files.go uses for remote copies, instead of
// shelling out to a bare `ssh` binary.
type sshTransport struct {
	client *ssh.SSHClient
}

func (t *sshTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	return t.client.UploadFile(ctx, localPath, remotePath, 0o700)
}

func (t *sshTransport) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	stdin, stdout, _, cleanup, err := t.client.StartInteractiveSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		_ = cleanup()
	}()
	return stdin, readCloser{stdout, cleanup}, nil
}

func (t *sshTransport) Cleanup(ctx context.Context, remotePath string) error {
	_, _, err := t.client.ExecuteCommand(ctx, fmt.Sprintf("rm -f %q", remotePath))
	return err
}

// readCloser turns the io.Reader half of an interactive SSH session into
// an io.ReadCloser by delegating Close to the session's cleanup func.
type readCloser struct {
	io.Reader
	cleanup func() error
}

func (r readCloser) Close() error { return r.cleanup() }

// RemoteCommandRunner drives the micro-runner helper over SSH, running
// exec commands on a remote host rather than in-process. The Commands
// actuator does not use it; it always runs commands locally. A runner is
// constructed once per target and reused across calls by the caller.
type RemoteCommandRunner struct {
	runnerPath string
	cl         *client.Client
	remotePath string
}

// NewRemoteCommandRunner uses the already-connected sc to start the
// micro-runner helper binary at runnerPath (built for the remote
// platform), ready to accept exec commands.
func NewRemoteCommandRunner(ctx context.Context, sc *ssh.SSHClient, runnerPath string) (*RemoteCommandRunner, error) {
	const remotePath = "/tmp/.coldcfg-micro-runner"
	cl, err := client.NewClient(&client.Config{
		Transport:      &sshTransport{client: sc},
		RunnerPath:     runnerPath,
		RemotePath:     remotePath,
		StartupTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := cl.Start(ctx, &client.Config{RunnerPath: runnerPath, RemotePath: remotePath}); err != nil {
		return nil, fmt.Errorf("remote command runner: start: %w", err)
	}
	return &RemoteCommandRunner{runnerPath: runnerPath, cl: cl, remotePath: remotePath}, nil
}

// Run executes command on the remote host via the micro-runner helper and
// returns its exec result.
func (r *RemoteCommandRunner) Run(ctx context.Context, command, shell, workDir string, timeout time.Duration) (*protocol.ExecResult, error) {
	params, err := json.Marshal(protocol.ExecParams{
		Command:    command,
		Shell:      shell,
		WorkDir:    workDir,
		CaptureOut: true,
		CaptureErr: true,
	})
	if err != nil {
		return nil, err
	}
	cmd := &protocol.CommandMessage{
		ID:      fmt.Sprintf("coldcfg-%d", time.Now().UnixNano()),
		Type:    protocol.CommandTypeExec,
		Timeout: int(timeout.Seconds()),
		Params:  params,
	}
	done, err := r.cl.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var result protocol.ExecResult
	if err := protocol.ParseParams(done.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close tears down the remote helper session.
func (r *RemoteCommandRunner) Close(ctx context.Context) error {
	return r.cl.Close(ctx, r.remotePath)
}
