package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"
)

// HostRunner executes commands directly on the host through the shell.
type HostRunner struct {
	cfg    Config
	logger *zap.Logger
}

// NewHostRunner returns a host runner with the given config.
func NewHostRunner(cfg Config, logger *zap.Logger) *HostRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostRunner{cfg: cfg, logger: logger.Named("sandbox.host")}
}

// Run executes command via sh -c in opts.Dir. The command's exit code
// is an *ExitError; infrastructure failures are plain errors, wrapping
// ErrUnavailable when the shell itself cannot be started.
func (r *HostRunner) Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if len(opts.Tools) > 0 {
		// Host mode cannot provision tools; whatever is on PATH is used.
		r.logger.Debug("tool constraints not enforced on host", zap.Int("tools", len(opts.Tools)))
	}

	timeout := r.cfg.DefaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, "sh", "-c", command)
	execCmd.Dir = opts.Dir
	execCmd.Env = buildEnvironment(r.cfg.AllowedEnv, opts.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.cfg.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.cfg.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	r.logger.Debug("executing command",
		zap.String("command", command),
		zap.String("dir", opts.Dir),
		zap.Duration("timeout", timeout))

	started := time.Now()
	err := execCmd.Run()

	result := &Result{
		Command:   command,
		ExitCode:  0,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(started),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.ExitCode = -1
			r.logger.Warn("command timed out", zap.String("command", command), zap.Duration("timeout", timeout))
			return result, fmt.Errorf("command timed out after %s", timeout)

		case execCtx.Err() == context.Canceled:
			result.ExitCode = -1
			return result, context.Canceled

		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
				r.logger.Debug("command exited non-zero",
					zap.String("command", command),
					zap.Int("exit", result.ExitCode))
				return result, &ExitError{Code: result.ExitCode, Stderr: result.Stderr}
			}
			if errors.Is(err, exec.ErrNotFound) {
				return result, fmt.Errorf("shell not found: %w", ErrUnavailable)
			}
			result.ExitCode = -1
			return result, fmt.Errorf("start command: %w", err)
		}
	}

	r.logger.Debug("command completed",
		zap.String("command", command),
		zap.Duration("duration", result.Duration),
		zap.Int("stdout_bytes", len(result.Stdout)))
	return result, nil
}

// buildEnvironment passes through the allowlisted host variables, then
// layers the caller's extras on top in sorted order.
func buildEnvironment(allowed []string, extra map[string]string) []string {
	env := make([]string, 0, len(allowed)+len(extra))
	for _, key := range allowed {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env
}
