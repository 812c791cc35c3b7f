// Package command runs the external tools hearth drives (rsync, ffmpeg,
// ffprobe, ssh, scp) behind a small interface so callers can be tested with
// fakes.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

// ExitCode extracts the exit status from err: 0 for nil, the status for an
// ExitError, -1 for anything else (not started, killed).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Runner executes a command. Stdout and stderr are written to out when it
// is non-nil.
type Runner interface {
	Run(ctx context.Context, name string, args []string, out io.Writer) error
	// Output runs the command and returns stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// LookPath reports whether name is installed.
	LookPath(name string) (string, error)
}

// Exec is the os/exec backed Runner.
type Exec struct {
	Log zerolog.Logger
}

// NewExec returns a Runner logging commands to log.
func NewExec(log zerolog.Logger) *Exec {
	return &Exec{Log: log}
}

func (e *Exec) Run(ctx context.Context, name string, args []string, out io.Writer) error {
	e.Log.Debug().Str("cmd", name).Strs("args", redact(args)).Msg("exec")

	cmd := exec.CommandContext(ctx, name, args...)
	stderr := NewTail(tailSize)
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = io.MultiWriter(out, stderr)
	} else {
		cmd.Stderr = stderr
	}

	return wrap(ctx, name, cmd.Run(), stderr.String())
}

func (e *Exec) Output(ctx context.Context, name string, args ...string) (string, error) {
	e.Log.Debug().Str("cmd", name).Strs("args", redact(args)).Msg("exec")

	cmd := exec.CommandContext(ctx, name, args...)
	stderr := NewTail(tailSize)
	cmd.Stderr = stderr
	b, err := cmd.Output()
	return string(b), wrap(ctx, name, err, stderr.String())
}

func (e *Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func wrap(ctx context.Context, name string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: name, Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr)}
	}
	return fmt.Errorf("run %s: %w", name, err)
}

// redact hides the value following sshpass -p.
func redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "-p" && i > 0 && out[i-1] == "sshpass" {
			out[i+1] = "****"
		}
	}
	if len(out) > 1 && out[0] == "-p" {
		out[1] = "****"
	}
	return out
}

const tailSize = 2048

// Tail is a writer that keeps only the last size bytes written to it.
type Tail struct {
	mu   sync.Mutex
	size int
	buf  bytes.Buffer
}

// NewTail returns a Tail holding at most size bytes.
func NewTail(size int) *Tail {
	return &Tail{size: size}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.size; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
