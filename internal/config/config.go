package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all relock configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Tool version pins by tool name (python, uv). Manifest-declared
	// constraints fill any gaps at update time.
	Constraints map[string]string `yaml:"constraints"`

	// Extra environment passed to package manager invocations.
	ExtraEnv map[string]string `yaml:"extra_env"`

	// Extraction settings
	Extract ExtractConfig `yaml:"extract"`

	// Sandbox for package manager commands
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Update run history
	Audit AuditConfig `yaml:"audit"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ExtractConfig configures manifest extraction.
type ExtractConfig struct {
	// Concurrency bounds parallel manifest parses.
	Concurrency int `yaml:"concurrency"`
}

// SandboxConfig configures where package manager commands run.
type SandboxConfig struct {
	Mode           string   `yaml:"mode"` // none, docker
	Image          string   `yaml:"image"`
	DockerBinary   string   `yaml:"docker_binary"`
	CommandTimeout string   `yaml:"command_timeout"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}

// AuditConfig configures the update run history store.
type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "relock",
		Version: "0.1.0",

		Constraints: map[string]string{},
		ExtraEnv:    map[string]string{},

		Extract: ExtractConfig{
			Concurrency: 4,
		},

		Sandbox: SandboxConfig{
			Mode:           "none",
			Image:          "ghcr.io/containerbase/sidecar:latest",
			DockerBinary:   "docker",
			CommandTimeout: "15m",
			MaxOutputBytes: 10 * 1024 * 1024,
			AllowedEnvVars: []string{
				"PATH", "HOME", "USER", "LANG", "LC_ALL",
				"SSL_CERT_FILE", "NO_PROXY", "HTTP_PROXY", "HTTPS_PROXY",
			},
		},

		Audit: AuditConfig{
			Enabled:      true,
			DatabasePath: "data/relock.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. A .env file in the working directory is merged into the
// environment first, so file and shell overrides behave the same.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if mode := os.Getenv("RELOCK_SANDBOX"); mode != "" {
		c.Sandbox.Mode = mode
	}
	if image := os.Getenv("RELOCK_SANDBOX_IMAGE"); image != "" {
		c.Sandbox.Image = image
	}
	if path := os.Getenv("RELOCK_AUDIT_PATH"); path != "" {
		c.Audit.DatabasePath = path
	}
	if level := os.Getenv("RELOCK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetCommandTimeout returns the sandbox command timeout as a duration.
func (c *Config) GetCommandTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.CommandTimeout)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// ValidSandboxModes lists all supported sandbox modes.
var ValidSandboxModes = []string{"none", "docker"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validMode := false
	for _, m := range ValidSandboxModes {
		if c.Sandbox.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid sandbox mode: %s (valid: %v)", c.Sandbox.Mode, ValidSandboxModes)
	}

	if c.Extract.Concurrency < 1 {
		return fmt.Errorf("extract concurrency must be at least 1, got %d", c.Extract.Concurrency)
	}

	if c.Audit.Enabled && c.Audit.DatabasePath == "" {
		return fmt.Errorf("audit enabled without a database path")
	}

	return nil
}
