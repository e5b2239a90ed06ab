package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DockerRunner executes commands inside a throwaway container. Tool
// constraints are honored by an install-tool preamble executed before
// the command, the containerbase convention.
type DockerRunner struct {
	cfg    Config
	logger *zap.Logger

	probeOnce  sync.Once
	dockerPath string
	available  bool
}

// NewDockerRunner returns a docker runner. Availability is probed on
// first use, not at construction.
func NewDockerRunner(cfg Config, logger *zap.Logger) *DockerRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = "docker"
	}
	return &DockerRunner{cfg: cfg, logger: logger.Named("sandbox.docker")}
}

// probe locates the docker binary and checks the daemon responds.
func (r *DockerRunner) probe() {
	r.probeOnce.Do(func() {
		path, err := exec.LookPath(r.cfg.DockerBinary)
		if err != nil {
			r.logger.Debug("docker binary not found", zap.String("binary", r.cfg.DockerBinary))
			return
		}
		r.dockerPath = path

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exec.CommandContext(ctx, path, "version", "--format", "{{.Server.Version}}").Run(); err != nil {
			r.logger.Debug("docker daemon not responding", zap.Error(err))
			return
		}
		r.available = true
	})
}

// IsAvailable reports whether the container runtime can be used.
func (r *DockerRunner) IsAvailable() bool {
	r.probe()
	return r.available
}

// Run executes command inside a container with opts.Dir mounted at the
// same path. A missing or unresponsive runtime wraps ErrUnavailable.
func (r *DockerRunner) Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if !r.IsAvailable() {
		return nil, fmt.Errorf("docker runtime not usable: %w", ErrUnavailable)
	}

	script := buildScript(command, opts.Tools)
	args := buildDockerArgs(r.cfg.Image, script, opts)

	timeout := r.cfg.DefaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, r.dockerPath, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.cfg.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.cfg.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	r.logger.Debug("executing in container",
		zap.String("image", r.cfg.Image),
		zap.String("script", script),
		zap.String("dir", opts.Dir))

	started := time.Now()
	err := execCmd.Run()

	result := &Result{
		Command:   script,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(started),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.ExitCode = -1
			return result, fmt.Errorf("command timed out after %s", timeout)
		case execCtx.Err() == context.Canceled:
			result.ExitCode = -1
			return result, context.Canceled
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// 125/126/127 are daemon and invocation failures, not
				// the command's own exit.
				code := exitErr.ExitCode()
				if code >= 125 && code <= 127 {
					result.ExitCode = code
					return result, fmt.Errorf("docker run failed (exit %d): %w", code, ErrUnavailable)
				}
				result.ExitCode = code
				return result, &ExitError{Code: code, Stderr: result.Stderr}
			}
			result.ExitCode = -1
			return result, fmt.Errorf("start docker: %w", err)
		}
	}
	return result, nil
}

// buildScript prepends one install-tool line per constrained tool.
func buildScript(command string, tools []Tool) string {
	var parts []string
	for _, tool := range tools {
		if tool.Constraint == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("install-tool %s %s", tool.Name, tool.Constraint))
	}
	parts = append(parts, command)
	return strings.Join(parts, " && ")
}

// buildDockerArgs assembles the docker run invocation: the working
// directory is bind-mounted at its own path so relative references in
// the manifest keep resolving.
func buildDockerArgs(image, script string, opts Options) []string {
	args := []string{"run", "--rm"}

	if opts.Dir != "" {
		args = append(args, "-v", opts.Dir+":"+opts.Dir, "-w", opts.Dir)
	}

	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", key+"="+opts.Env[key])
	}

	args = append(args, image, "sh", "-c", script)
	return args
}
