// Package sshshell implements the remote shell port over SSH. The
// device exposes a plain shell channel: files move through cat
// redirections and metadata comes from stat, which keeps the adapter
// working on the device's minimal busybox userland.
package sshshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

var (
	_ driven.ShellDialer = (*Dialer)(nil)
	_ driven.RemoteShell = (*Shell)(nil)
)

// Dialer opens SSH sessions to the device.
type Dialer struct{}

func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial connects and authenticates. The device regenerates its host key
// on factory reset and lives on a point-to-point USB network, so host
// key pinning is not practical.
func (d *Dialer) Dial(ctx context.Context, cfg domain.DeviceConfig) (driven.RemoteShell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         cfg.Timeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", cfg.Addr(), clientCfg)
		done <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, fmt.Errorf("dial %s: %w: %w", cfg.Addr(), domain.ErrTimeout, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, classifyDialError(cfg.Addr(), r.err)
		}
		return &Shell{client: r.client}, nil
	}
}

func classifyDialError(addr string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied") {
		return fmt.Errorf("dial %s: %w: %w", addr, domain.ErrAuth, err)
	}
	return fmt.Errorf("dial %s: %w: %w", addr, domain.ErrConnection, err)
}

// Shell is one authenticated SSH connection. Each operation runs in its
// own session on the shared connection; callers serialize operations.
type Shell struct {
	client *ssh.Client
}

// Execute runs a command and captures its output. A non-zero exit code
// is reported in the result, not as an error.
func (s *Shell) Execute(ctx context.Context, command string) (*driven.CommandResult, error) {
	var stdout, stderr bytes.Buffer
	start := time.Now()

	exitCode, err := s.run(ctx, command, nil, &stdout, &stderr)
	if err != nil {
		return nil, err
	}

	result := &driven.CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	logger.Debug("remote: %s (exit %d, %s)", command, result.ExitCode, result.Duration.Round(time.Millisecond))
	return result, nil
}

// Upload copies a local file to the device through a cat redirection,
// creating parent directories as needed.
func (s *Shell) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	defer f.Close()

	command := fmt.Sprintf("mkdir -p %s && cat > %s",
		quote(path.Dir(remotePath)), quote(remotePath))
	exitCode, err := s.run(ctx, command, f, nil, nil)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("upload %s: %w: exit %d", remotePath, domain.ErrRemoteIO, exitCode)
	}
	return nil
}

// Download copies a device file to a local path.
func (s *Shell) Download(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}

	exitCode, runErr := s.run(ctx, "cat "+quote(remotePath), nil, f, nil)
	closeErr := f.Close()

	if runErr != nil {
		return fmt.Errorf("download %s: %w", remotePath, runErr)
	}
	if exitCode != 0 {
		return fmt.Errorf("download %s: %w: exit %d", remotePath, domain.ErrRemoteIO, exitCode)
	}
	if closeErr != nil {
		return fmt.Errorf("download %s: %w", remotePath, closeErr)
	}
	return nil
}

// ListDir returns the regular files under dir, recursively. A missing
// directory is an empty listing, not an error.
func (s *Shell) ListDir(ctx context.Context, dir string) ([]driven.RemoteFile, error) {
	command := fmt.Sprintf("[ -d %[1]s ] && find %[1]s -type f -exec stat -c '%%s %%Y %%n' {} + || true", quote(dir))
	result, err := s.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("list %s: %w: %s", dir, domain.ErrRemoteIO, result.Stderr)
	}

	var files []driven.RemoteFile
	for _, line := range strings.Split(result.Stdout, "\n") {
		file, ok := parseStatLine(line)
		if !ok {
			continue
		}
		file.Path = strings.TrimPrefix(file.Path, dir+"/")
		files = append(files, file)
	}
	return files, nil
}

// Stat returns size and mtime for one remote path.
func (s *Shell) Stat(ctx context.Context, remotePath string) (*driven.RemoteFile, error) {
	result, err := s.Execute(ctx, "stat -c '%s %Y %n' "+quote(remotePath))
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("stat %s: %w", remotePath, domain.ErrNotFound)
	}

	file, ok := parseStatLine(strings.TrimSpace(result.Stdout))
	if !ok {
		return nil, fmt.Errorf("stat %s: %w: unparseable output %q", remotePath, domain.ErrRemoteIO, result.Stdout)
	}
	return &file, nil
}

// Checksum returns the SHA-256 hex digest of a remote file.
func (s *Shell) Checksum(ctx context.Context, remotePath string) (string, error) {
	result, err := s.Execute(ctx, "sha256sum "+quote(remotePath))
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("checksum %s: %w: %s", remotePath, domain.ErrRemoteIO, result.Stderr)
	}

	fields := strings.Fields(result.Stdout)
	if len(fields) < 1 || len(fields[0]) != 64 {
		return "", fmt.Errorf("checksum %s: %w: unparseable output %q", remotePath, domain.ErrRemoteIO, result.Stdout)
	}
	return fields[0], nil
}

// Close tears down the connection.
func (s *Shell) Close() error {
	return s.client.Close()
}

// run executes one command in a fresh session, honouring ctx by tearing
// the session down on cancellation. Returns the exit code.
func (s *Shell) run(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("%w: opening session: %w", domain.ErrConnection, err)
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return 0, fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
		return 0, nil
	}
}

// parseStatLine parses "size mtime path". The path may contain spaces.
func parseStatLine(line string) (driven.RemoteFile, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) != 3 {
		return driven.RemoteFile{}, false
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return driven.RemoteFile{}, false
	}
	mtime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return driven.RemoteFile{}, false
	}
	return driven.RemoteFile{
		Path:    parts[2],
		Size:    size,
		ModTime: time.Unix(mtime, 0).UTC(),
	}, true
}

// quote single-quotes s for the remote POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
