// Package hostexec runs commands and writes files on the machine being
// provisioned, either the local host or a remote one reached over SSH.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Host is everything a provisioning step needs from the target machine.
type Host interface {
	// Run executes a shell command and returns combined stdout/stderr.
	Run(ctx context.Context, command string) (string, error)
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Dial opens a TCP connection as seen from the host.
	Dial(network, addr string) (net.Conn, error)
	Name() string
	Close() error
}

// Local runs everything on this machine through bash.
type Local struct {
	Shell string
}

func NewLocal() *Local {
	return &Local{Shell: "bash"}
}

func (l *Local) Run(ctx context.Context, command string) (string, error) {
	shell := l.Shell
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (l *Local) WriteFile(_ context.Context, path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	return WriteWithMode(f, content, mode)
}

// ModeFile is an open file whose permissions can be changed.
type ModeFile interface {
	io.WriteCloser
	Chmod(mode os.FileMode) error
}

// WriteWithMode sets mode before writing content, then closes f. An
// existing file never holds the new content under its old mode.
func WriteWithMode(f ModeFile, content []byte, mode os.FileMode) error {
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (l *Local) Dial(network, addr string) (net.Conn, error) {
	return net.Dial(network, addr)
}

func (l *Local) Name() string { return "localhost" }

func (l *Local) Close() error { return nil }

// ExitCode extracts the exit status from a Run error, or -1 if unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee interface{ ExitStatus() int }
	if errors.As(err, &ee) {
		return ee.ExitStatus()
	}
	var xe *exec.ExitError
	if errors.As(err, &xe) {
		return xe.ExitCode()
	}
	return -1
}

// CommandExists reports whether name resolves on the host's PATH.
func CommandExists(ctx context.Context, h Host, name string) bool {
	_, err := h.Run(ctx, "command -v "+Quote(name)+" >/dev/null 2>&1")
	return err == nil
}

// Quote wraps a single shell word in single quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Join quotes every word and joins them with single spaces.
func Join(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}

// Tail returns the last n lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// CommandError carries the output of a failed command.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(Tail(e.Output, 20))
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// MustRun runs command and wraps a failure in a CommandError.
func MustRun(ctx context.Context, h Host, command string) (string, error) {
	out, err := h.Run(ctx, command)
	if err != nil {
		return out, &CommandError{Command: command, Output: out, Err: err}
	}
	return out, nil
}
