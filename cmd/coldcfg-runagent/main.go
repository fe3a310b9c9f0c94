// Package main implements coldcfg-runagent, a thin client for the
// runagent control socket described in spec §4.8/§6: it connects to the
// UNIX-domain socket bound by a running coldcfg-agent daemon, writes a
// single newline-terminated textual request, and copies the response
// back to stdout until the daemon closes the connection.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		sockPath string
		timeout  time.Duration
	)
	flag.StringVar(&sockPath, "socket", "/var/lib/coldcfg/state/runagent.socket", "path to the runagent control socket")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "dial and round-trip timeout")
	flag.Parse()

	request := strings.Join(flag.Args(), " ")
	if request == "" {
		request = "RUN"
	}

	if err := run(sockPath, request, timeout); err != nil {
		fmt.Fprintln(os.Stderr, "coldcfg-runagent:", err)
		os.Exit(1)
	}
}

func run(sockPath, request string, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sockPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", request); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	if _, err := io.Copy(os.Stdout, conn); err != nil && err != io.EOF {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}
