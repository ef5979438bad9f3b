// Package runner executes external privileged tools for the disk management
// subsystem.
//
// Every invocation passes user data as an argument list; nothing is ever
// interpolated into a shell string. Commands that need elevation are prefixed
// with sudo as the executable, with the real tool as the first argument.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a subprocess when the caller does not set one.
const DefaultTimeout = 30 * time.Second

// Result captures a finished subprocess.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Options controls a single invocation.
type Options struct {
	// Timeout bounds the subprocess; the process is killed on expiry.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// Sudo prefixes the invocation with a sudo privilege escalation. The
	// target executable becomes the first argument of sudo, never part of
	// a shell string.
	Sudo bool
}

// Runner runs external executables. The interface exists so managers can be
// tested with fakes.
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Options) (*Result, error)
}

// LaunchError indicates the process could not be started at all.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError indicates the process ran and exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, e.Stderr)
}

// TimeoutError indicates the process was killed after exceeding its timeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Name, e.Timeout)
}

// ExecRunner is the production Runner built on exec.CommandContext.
type ExecRunner struct {
	logger logrus.FieldLogger

	// SudoPath overrides the sudo executable, mainly for tests.
	SudoPath string
}

// New creates an ExecRunner logging to the standard logrus logger.
func New() *ExecRunner {
	return &ExecRunner{logger: logrus.StandardLogger(), SudoPath: "sudo"}
}

// SetLogger sets a custom logger.
func (r *ExecRunner) SetLogger(logger logrus.FieldLogger) {
	r.logger = logger
}

// Run executes name with args and waits for it to exit.
//
// A non-zero exit is returned as both a populated Result and an *ExitError so
// callers can classify stderr without re-running the command.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execName := name
	execArgs := args
	if opts.Sudo {
		execName = r.SudoPath
		if execName == "" {
			execName = "sudo"
		}
		execArgs = append([]string{name}, args...)
	}

	logger := r.logger.WithFields(logrus.Fields{
		"command": name,
		"args":    args,
		"sudo":    opts.Sudo,
		"timeout": timeout.String(),
	})
	logger.Debug("executing command")

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctxTimeout, execName, execArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	duration := time.Since(startTime)

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	logger.WithFields(logrus.Fields{
		"duration_ms": duration.Milliseconds(),
		"exit_code":   res.ExitCode,
	}).Debug("command completed")

	if err != nil {
		// The caller's context going away is a cancellation, not a tool
		// failure; only our own per-call deadline is a timeout.
		if ctx.Err() != nil {
			logger.WithField("cancelled", true).Warn("command cancelled, process killed")
			return res, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		}
		if ctxTimeout.Err() == context.DeadlineExceeded {
			logger.WithField("timed_out", true).Warn("command timed out, process killed")
			return res, &TimeoutError{Name: name, Timeout: timeout}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &ExitError{
				Name:     name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   res.Stderr,
			}
		}

		logger.WithError(err).Error("failed to start command")
		return res, &LaunchError{Name: name, Err: err}
	}

	return res, nil
}
