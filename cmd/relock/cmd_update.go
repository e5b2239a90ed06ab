package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relock/internal/audit"
	"relock/internal/manager"
)

var (
	updatePackages    []string
	updateMaintenance bool
)

// updateCmd refreshes the lock artifact for one manifest
var updateCmd = &cobra.Command{
	Use:   "update [manifest]",
	Short: "Refresh the lock artifact after dependency changes",
	Long: `Runs the manager's lock workflow for the manifest. The package manager
is invoked in the manifest directory and the resulting lock artifact is
compared against the previous one.

Named packages produce targeted upgrades; --maintenance refreshes every
pin instead. A failed tool run is reported on stderr but does not fail
the command: only an unavailable execution environment does.

Examples:
  relock update pyproject.toml --pkg requests --pkg urllib3
  relock update pyproject.toml --maintenance`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	path := args[0]

	m := registry.Detect(path)
	if m == nil {
		return fmt.Errorf("no manager matches %s", path)
	}
	updater, ok := m.(manager.ArtifactUpdater)
	if !ok {
		return fmt.Errorf("manager %s does not maintain lock artifacts", m.Name())
	}
	if !updateMaintenance && len(updatePackages) == 0 {
		return fmt.Errorf("nothing to update: pass --pkg or --maintenance")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nUpdate cancelled")
			cancel()
		case <-ctx.Done():
		}
	}()

	req := buildUpdateRequest(path)
	run := &audit.Run{
		StartedAt:   time.Now(),
		PackageFile: path,
		Manager:     m.Name(),
		UpdateType:  req.Config.UpdateType,
		Packages:    updatePackages,
	}

	logger.Info("updating lock artifact",
		zap.String("manifest", path),
		zap.Strings("packages", updatePackages),
		zap.Bool("maintenance", updateMaintenance))

	results, err := updater.UpdateArtifacts(ctx, req)
	run.Duration = time.Since(run.StartedAt)

	if err != nil {
		run.Outcome = audit.OutcomeTransient
		run.Detail = err.Error()
		recordRun(run)
		return err
	}

	switch {
	case results == nil:
		run.Outcome = audit.OutcomeUnchanged
		fmt.Printf("%s: no lock artifact to maintain\n", path)
	case len(results) == 0:
		run.Outcome = audit.OutcomeUnchanged
		fmt.Printf("%s: lock file already up to date\n", path)
	default:
		for _, res := range results {
			if res.File != nil {
				run.ChangedFiles++
				fmt.Printf("%s: %s\n", path, res)
			}
			if res.ArtifactError != nil {
				run.Outcome = audit.OutcomeArtifactError
				run.Detail = res.ArtifactError.Stderr
				fmt.Fprintf(os.Stderr, "%s: lock update failed: %s\n",
					res.ArtifactError.LockFile, res.ArtifactError.Stderr)
			}
		}
		if run.Outcome == "" {
			run.Outcome = audit.OutcomeChanged
		}
	}

	recordRun(run)
	return nil
}

func buildUpdateRequest(path string) *manager.UpdateArtifactsRequest {
	req := &manager.UpdateArtifactsRequest{
		PackageFileName: path,
		Config: manager.UpdateConfig{
			Constraints: cfg.Constraints,
			ExtraEnv:    cfg.ExtraEnv,
		},
	}
	if updateMaintenance {
		req.Config.UpdateType = manager.UpdateTypeLockFileMaintenance
	}
	for _, name := range updatePackages {
		req.UpdatedDeps = append(req.UpdatedDeps, manager.Upgrade{
			PackageDependency: manager.PackageDependency{
				DepName:     name,
				PackageName: name,
			},
		})
	}
	return req
}

// recordRun persists the run when auditing is enabled. Audit problems
// never fail the update.
func recordRun(run *audit.Run) {
	if !cfg.Audit.Enabled {
		return
	}
	store, err := audit.Open(cfg.Audit.DatabasePath)
	if err != nil {
		logger.Debug("audit store unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.RecordRun(run); err != nil {
		logger.Debug("audit write failed", zap.Error(err))
	}
}
