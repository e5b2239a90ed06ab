// Package sandbox executes package-manager commands on behalf of
// artifact updaters, either directly on the host or inside a container.
// Callers hand over a shell command string plus run options; the runner
// owns working directory, environment filtering, output capture, and
// timeouts. Environment-level failures surface as ErrUnavailable so
// callers can retry the whole operation elsewhere.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode selects the isolation level for command execution.
type Mode string

const (
	// ModeNone runs commands directly on the host.
	ModeNone Mode = "none"

	// ModeDocker runs commands in a throwaway container.
	ModeDocker Mode = "docker"
)

// ErrUnavailable marks environment-level failures that are expected to
// clear on retry: the container runtime is missing, the shell cannot be
// started, and the like. Callers propagate it unchanged instead of
// converting it into a result.
var ErrUnavailable = errors.New("sandbox: execution environment unavailable")

// Tool pins one tool version for a run. Constraints are opaque strings
// handed to the provisioning layer; empty constraints mean "whatever is
// installed".
type Tool struct {
	Name       string
	Constraint string
}

// Options carries per-run settings.
type Options struct {
	// Dir is the working directory for the command.
	Dir string

	// Env adds KEY=VALUE pairs on top of the allowlisted host
	// environment.
	Env map[string]string

	// Tools to provision before the command runs. Only the docker
	// runner can honor these; the host runner logs and relies on the
	// ambient installation.
	Tools []Tool

	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Result captures one command execution. It is returned alongside the
// error for failed runs so callers can get at captured output.
type Result struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// ExitError reports a command that started and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if line := firstLine(e.Stderr); line != "" {
		return fmt.Sprintf("command exited %d: %s", e.Code, line)
	}
	return fmt.Sprintf("command exited %d", e.Code)
}

// Runner executes commands for artifact updaters.
type Runner interface {
	Run(ctx context.Context, command string, opts Options) (*Result, error)
}

// Config controls runner construction.
type Config struct {
	Mode Mode

	// Image is the container image for docker mode.
	Image string

	// DockerBinary overrides the docker executable name.
	DockerBinary string

	// DefaultTimeout bounds each command when Options.Timeout is zero.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int64

	// AllowedEnv lists host environment variables passed through to
	// the command.
	AllowedEnv []string
}

// DefaultConfig returns the settings used when the config file is
// silent.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeNone,
		Image:          "ghcr.io/containerbase/sidecar:latest",
		DockerBinary:   "docker",
		DefaultTimeout: 15 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedEnv:     []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "SSL_CERT_FILE", "NO_PROXY", "HTTP_PROXY", "HTTPS_PROXY"},
	}
}

// New builds the runner for the configured mode.
func New(cfg Config, logger *zap.Logger) (Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Mode {
	case "", ModeNone:
		return NewHostRunner(cfg, logger), nil
	case ModeDocker:
		return NewDockerRunner(cfg, logger), nil
	default:
		return nil, fmt.Errorf("sandbox: unknown mode %q", cfg.Mode)
	}
}

// limitedWriter caps total bytes written, discarding the overflow while
// reporting full writes to keep the producing process alive.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}

	if remaining := lw.max - lw.written; int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
