package bazel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"relock/internal/manager"
)

// Name is the manager's registry identifier.
const Name = "bazel"

// Manager extracts dependencies from WORKSPACE-style build files.
type Manager struct {
	logger *zap.Logger
}

// New returns a bazel manager. A nil logger disables logging.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger.Named(Name)}
}

func (m *Manager) Name() string { return Name }

// Matches recognizes WORKSPACE, WORKSPACE.bazel, and *.WORKSPACE.
func (m *Manager) Matches(filename string) bool {
	return filename == "WORKSPACE" ||
		filename == "WORKSPACE.bazel" ||
		strings.HasSuffix(filename, ".WORKSPACE")
}

// Extract parses the workspace file and validates every rule call
// against the known targets. Calls that match no target are dropped,
// never reported as errors.
func (m *Manager) Extract(ctx context.Context, content []byte, path string) ([]manager.PackageDependency, error) {
	records, err := ParseWorkspace(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	deps := make([]manager.PackageDependency, 0, len(records))
	for _, rec := range records {
		dep := DepFromFragment(rec)
		if dep == nil {
			m.logger.Debug("rule call matched no target",
				zap.String("file", path),
				zap.Strings("keys", rec.Keys()))
			continue
		}
		deps = append(deps, *dep)
	}

	m.logger.Debug("extracted workspace dependencies",
		zap.String("file", path),
		zap.Int("calls", len(records)),
		zap.Int("deps", len(deps)))
	return deps, nil
}
