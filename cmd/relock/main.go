package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relock/internal/config"
	"relock/internal/logging"
	"relock/internal/manager"
	"relock/internal/manager/bazel"
	"relock/internal/manager/pep621"
	"relock/internal/sandbox"
)

// Global flags and state
var (
	verbose    bool
	configPath string
	logFormat  string

	cfg      *config.Config
	logger   *zap.Logger
	registry *manager.Registry
	runner   sandbox.Runner
)

var rootCmd = &cobra.Command{
	Use:   "relock",
	Short: "Extract manifest dependencies and keep lock artifacts in sync",
	Long: `relock reads build manifests, extracts the dependencies they declare,
and refreshes the backend lock artifacts after dependency updates.

Supported manifests:
  - bazel WORKSPACE files (git_repository, go_repository, and friends)
  - PEP 621 pyproject.toml with uv lock files

Examples:
  relock extract WORKSPACE services/api/pyproject.toml
  relock update services/api/pyproject.toml --pkg requests
  relock update services/api/pyproject.toml --maintenance
  relock watch services/api/pyproject.toml
  relock history -n 10`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}

		runner, err = sandbox.New(sandboxConfig(cfg), logger)
		if err != nil {
			return err
		}
		registry = buildRegistry(logger, runner)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// managersCmd lists the registered managers
var managersCmd = &cobra.Command{
	Use:   "managers",
	Short: "List available manifest managers",
	RunE:  listManagers,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".relock.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (text or json)")

	extractCmd.Flags().StringVar(&extractFormat, "format", "json", "Output format (json or yaml)")
	updateCmd.Flags().StringSliceVar(&updatePackages, "pkg", nil, "Package to upgrade in the lock file (repeatable)")
	updateCmd.Flags().BoolVar(&updateMaintenance, "maintenance", false, "Refresh every locked version")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(managersCmd)
}

// buildRegistry wires up every known manager. New managers register here.
func buildRegistry(logger *zap.Logger, runner sandbox.Runner) *manager.Registry {
	reg := manager.NewRegistry()
	reg.Register(bazel.New(logger))
	reg.Register(pep621.New(logger, runner))
	return reg
}

// sandboxConfig maps the file config onto the runner config.
func sandboxConfig(cfg *config.Config) sandbox.Config {
	return sandbox.Config{
		Mode:           sandbox.Mode(cfg.Sandbox.Mode),
		Image:          cfg.Sandbox.Image,
		DockerBinary:   cfg.Sandbox.DockerBinary,
		DefaultTimeout: cfg.GetCommandTimeout(),
		MaxOutputBytes: int64(cfg.Sandbox.MaxOutputBytes),
		AllowedEnv:     cfg.Sandbox.AllowedEnvVars,
	}
}

func listManagers(cmd *cobra.Command, args []string) error {
	for _, m := range registry.All() {
		fmt.Println(m.Name())
		switch m.Name() {
		case bazel.Name:
			fmt.Println("  files: WORKSPACE, WORKSPACE.bazel, *.WORKSPACE")
			fmt.Printf("  rules: %s\n", strings.Join(bazel.SupportedRules(), ", "))
		case pep621.Name:
			fmt.Println("  files: pyproject.toml")
			fmt.Printf("  lock:  %s\n", pep621.LockFileName)
		}
		if _, ok := m.(manager.ArtifactUpdater); ok {
			fmt.Println("  maintains lock artifacts")
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
