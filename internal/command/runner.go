// Package command runs external tools (git, npm, powershell, gsettings) with a
// bounded execution time.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/util"
)

// DefaultTimeout bounds every invocation unless the runner is configured otherwise.
const DefaultTimeout = 30 * time.Second

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when a command ran but exited nonzero.
type ExitError struct {
	Name   string
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Code, msg)
}

// ExitCode returns the exit code carried by err, or -1 when err is not an ExitError.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args. A nonzero exit returns the Result together
	// with an *ExitError; a timeout returns an error wrapping util.ErrTimeout;
	// a missing executable returns an error wrapping util.ErrNotFound.
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner bounded by timeout (DefaultTimeout when zero).
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := logging.FromContext(ctx)

	path, err := exec.LookPath(name)
	if err != nil {
		return Result{ExitCode: -1}, util.WrapErrorf(util.ErrNotFound, "%s", name)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec // G204: argv is built from fixed tool names and validated config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		logger.Debug("command timed out", "cmd", name, "args", Redact(args), "timeout", timeout)
		return res, fmt.Errorf("%s %s: %w after %s", name, strings.Join(Redact(args), " "), util.ErrTimeout, timeout)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			logger.Debug("command failed", "cmd", name, "args", Redact(args), "exit_code", res.ExitCode, "duration", time.Since(start))
			return res, &ExitError{Name: name, Args: Redact(args), Code: res.ExitCode, Stderr: res.Stderr}
		}
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", name, runErr)
	}

	logger.Debug("command finished", "cmd", name, "args", Redact(args), "duration", time.Since(start))
	return res, nil
}

// Available reports whether name can be invoked, using versionArgs as a
// side-effect-free probe.
func Available(ctx context.Context, r Runner, name string, versionArgs ...string) bool {
	_, err := r.Run(ctx, name, versionArgs...)
	return err == nil
}

// Redact masks the password portion of any proxy URL found in args.
func Redact(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redactURL(a)
	}
	return out
}

func redactURL(s string) string {
	scheme := strings.Index(s, "://")
	if scheme < 0 {
		return s
	}
	rest := s[scheme+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return s
	}
	userinfo := rest[:at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":xxxxx"
	}
	return s[:scheme+3] + userinfo + rest[at:]
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f(ctx, name, args...)
}
