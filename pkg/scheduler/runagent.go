package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// runagentServer binds the optional UNIX-domain control socket described
// in spec §4.8/§6: a client sends a newline-terminated textual request
// (identifier plus options); the daemon forks a short-lived handler that
// invokes the configured local run command and copies stdout/stderr back
// to the client, then closes the connection.
type runagentServer struct {
	ln          net.Listener
	agentBinary string
	agentArgs   []string
	logger      zerolog.Logger

	closeOnce sync.Once
}

func newRunagentServer(dir string, acl []string, agentBinary string, agentArgs []string, logger zerolog.Logger) (*runagentServer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("runagent: mkdir %s: %w", dir, err)
	}
	sockPath := filepath.Join(dir, "runagent.socket")
	_ = os.Remove(sockPath) // stale socket from a prior crashed instance

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("runagent: listen %s: %w", sockPath, err)
	}
	if err := applyACL(sockPath, acl); err != nil {
		logger.Warn().Err(err).Msg("runagent: failed to apply socket ACL")
	}

	return &runagentServer{
		ln:          ln,
		agentBinary: agentBinary,
		agentArgs:   agentArgs,
		logger:      logger.With().Str("component", "runagent").Logger(),
	}, nil
}

// Serve accepts connections on the main thread and hands each to a
// short-lived goroutine, per §4.8's "handed to a short-lived child".
func (s *runagentServer) Serve(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}
		go s.handle(ctx, conn)
	}
}

func (s *runagentServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	request := strings.TrimSpace(line)
	s.logger.Info().Str("request", request).Msg("runagent request received")

	args := append(append([]string{}, s.agentArgs...), strings.Fields(request)...)
	cmd := exec.CommandContext(ctx, s.agentBinary, args...)
	cmd.Stdout = conn
	cmd.Stderr = conn
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(conn, "ERROR: %v\n", err)
	}
}

// Close unlinks the socket path, per §4.8's shutdown behavior.
func (s *runagentServer) Close() {
	s.closeOnce.Do(func() {
		path := ""
		if un, ok := s.ln.Addr().(*net.UnixAddr); ok {
			path = un.Name
		}
		_ = s.ln.Close()
		if path != "" {
			_ = os.Remove(path)
		}
	})
}

// applyACL chowns the socket to the configured user set's primary user, a
// coarse approximation of a POSIX ACL (stdlib has no portable ACL API);
// re-applied on reload when the caller detects the configured set changed.
func applyACL(sockPath string, acl []string) error {
	if len(acl) == 0 {
		return nil
	}
	u, err := user.Lookup(acl[0])
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	return os.Chown(sockPath, uid, gid)
}
