package gateway

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrExecution reports that the command could not be started at all
	// (binary missing, permission denied, spawn failure).
	ErrExecution = errors.New("gateway: execution failed")
	// ErrTimedOut reports that Command.Timeout or the caller's deadline elapsed
	// before the process exited.
	ErrTimedOut = errors.New("gateway: command timed out")
)

const waitDelay = 2 * time.Second

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
	// Env entries are appended to the current process environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the captured outcome of a finished process. A non-zero ExitCode is
// a normal result, not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the process exited with code zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner builds a Runner backed by os/exec.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts cmd, waits for it, and returns its exit code and captured output.
// It returns an error wrapping ErrExecution when the process cannot be started,
// ErrTimedOut when a deadline kills it, and the context error when ctx is
// cancelled.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return Result{ExitCode: -1}, errors.Wrap(ErrExecution, "empty command name")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	// Children that inherit stdout must not keep Wait blocked past the deadline.
	proc.WaitDelay = waitDelay
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	r.logger.Debug().Str("cmd", cmd.String()).Dur("timeout", cmd.Timeout).Msg("gateway: executing")
	start := time.Now()
	err := proc.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		r.logger.Debug().Str("cmd", cmd.String()).Dur("elapsed", result.Duration).Msg("gateway: command completed")
		return result, nil
	}
	if ctxErr := runCtx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			r.logger.Warn().Str("cmd", cmd.String()).Dur("timeout", cmd.Timeout).Msg("gateway: command timed out")
			return result, errors.Wrapf(ErrTimedOut, "%s exceeded its deadline", cmd.Name)
		}
		r.logger.Warn().Str("cmd", cmd.String()).Msg("gateway: command interrupted")
		return result, errors.Wrapf(ctxErr, "%s interrupted", cmd.Name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		r.logger.Debug().
			Str("cmd", cmd.String()).
			Int("exit_code", result.ExitCode).
			Dur("elapsed", result.Duration).
			Msg("gateway: command exited non-zero")
		return result, nil
	}
	result.ExitCode = -1
	return result, errors.Wrapf(ErrExecution, "%s: %v", cmd.Name, err)
}
