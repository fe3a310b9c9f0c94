package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
	"github.com/coldcfg/coldcfg/pkg/transports/ssh"
)

// Files actuates the "files" promise-type: the promiser is a path, and
// constraints name the desired content and permissions, adapted from
// FileWriteHandler/FileReadHandler pair. Ownership is not managed.
type Files struct{}

// Actuate ensures the file at p.Promiser matches the promise's
// content/copy_from/create/backup/mode constraints, reporting NOOP when the
// file already matches and CHANGE when a write was required. Owner and
// group constraints are ignored.
func (Files) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	path := p.Promiser.Scalar
	if path == "" {
		return promise.FAIL, fmt.Errorf("files: promiser path is empty")
	}

	content, hasContent := constraint(p, "content")
	createOnly := boolConstraint(p, "create", false)
	backup := boolConstraint(p, "backup", false)
	modeStr := stringConstraint(p, "mode", "")
	copyFrom := stringConstraint(p, "copy_from", "")

	outcome := promise.NOOP

	// A remote-sourced promiser (copy_from => "user@host:/remote/path")
	// fetches the desired content over the SSH transport before the
	// usual compare-then-write logic runs, the way the original agent's
	// copy promise-type pulls from a policy server.
	if copyFrom != "" && !hasContent {
		fetched, err := fetchRemoteFile(copyFrom)
		if err != nil {
			return promise.FAIL, fmt.Errorf("files: copy_from %s: %w", copyFrom, err)
		}
		content = promise.Scalar(fetched)
		hasContent = true
	}

	existing, statErr := os.Stat(path)
	exists := statErr == nil

	if hasContent && content.Kind == promise.KindScalar && !createOnly {
		want := []byte(content.Scalar)
		same := exists && !existing.IsDir() && fileMatches(path, want)
		if !same {
			if dryRun {
				return promise.WARN, nil
			}
			if exists && backup {
				if err := copyFile(path, path+".bak"); err != nil {
					return promise.FAIL, fmt.Errorf("files: backup %s: %w", path, err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return promise.FAIL, fmt.Errorf("files: mkdir %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, want, 0o644); err != nil {
				return promise.FAIL, fmt.Errorf("files: write %s: %w", path, err)
			}
			outcome = promise.Aggregate(outcome, promise.CHANGE)
			exists = true
		}
	} else if createOnly && !exists {
		if dryRun {
			return promise.WARN, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return promise.FAIL, fmt.Errorf("files: mkdir %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return promise.FAIL, fmt.Errorf("files: create %s: %w", path, err)
		}
		outcome = promise.Aggregate(outcome, promise.CHANGE)
		exists = true
	}

	if modeStr != "" && exists {
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return promise.FAIL, fmt.Errorf("files: invalid mode %q: %w", modeStr, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return promise.FAIL, fmt.Errorf("files: stat %s: %w", path, err)
		}
		if info.Mode().Perm() != os.FileMode(mode) {
			if dryRun {
				return promise.WARN, nil
			}
			if err := os.Chmod(path, os.FileMode(mode)); err != nil {
				return promise.FAIL, fmt.Errorf("files: chmod %s: %w", path, err)
			}
			outcome = promise.Aggregate(outcome, promise.CHANGE)
		}
	}

	return outcome, nil
}

// fetchRemoteFile downloads a "user@host:/path" source over SSH/SFTP into
// a scratch file and returns its content.
func fetchRemoteFile(spec string) (string, error) {
	at := strings.IndexByte(spec, '@')
	colon := strings.IndexByte(spec, ':')
	if at < 0 || colon < at {
		return "", fmt.Errorf("copy_from must be of the form user@host:/path, got %q", spec)
	}
	user := spec[:at]
	host := spec[at+1 : colon]
	remotePath := spec[colon+1:]

	cfg := ssh.DefaultConfig(host, user)
	client, err := ssh.NewSSHClient(cfg)
	if err != nil {
		return "", err
	}
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "coldcfg-copy-from-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := client.DownloadFile(ctx, remotePath, tmpPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fileMatches(path string, want []byte) bool {
	have, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return checksumOf(have) == checksumOf(want)
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
