package pep621

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"relock/internal/manager"
	"relock/internal/sandbox"
)

// Name identifies this manager in the registry and in logs.
const Name = "pep621"

// Dependency type labels mirror the manifest path each requirement
// was declared under.
const (
	depTypeDependencies         = "project.dependencies"
	depTypeOptionalDependencies = "project.optional-dependencies"
	depTypeDependencyGroups     = "dependency-groups"
	depTypeUVDevDependencies    = "tool.uv.dev-dependencies"
)

// Processor extends the standards-based extraction with the behavior
// of one concrete build backend. Process amends the dependency list
// from tool-specific tables, ExtractLockedVersions annotates it from
// the backend's lock artifact, and UpdateArtifacts refreshes that
// artifact after a manifest change. A processor whose tool is not
// configured in the manifest leaves the input untouched and returns
// nil from UpdateArtifacts.
type Processor interface {
	Process(project *PyProject, deps []manager.PackageDependency) []manager.PackageDependency
	ExtractLockedVersions(ctx context.Context, project *PyProject, deps []manager.PackageDependency, packageFile string) []manager.PackageDependency
	UpdateArtifacts(ctx context.Context, req *manager.UpdateArtifactsRequest, project *PyProject) ([]manager.UpdateResult, error)
}

// Manager extracts dependencies from PEP 621 pyproject.toml manifests
// and keeps backend lock files in sync through its processors.
type Manager struct {
	logger     *zap.Logger
	processors []Processor
}

var (
	_ manager.Manager         = (*Manager)(nil)
	_ manager.ArtifactUpdater = (*Manager)(nil)
)

// New builds a pep621 manager. The runner is handed to processors
// that shell out to their backend tool.
func New(logger *zap.Logger, runner sandbox.Runner) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(Name)
	return &Manager{
		logger:     logger,
		processors: []Processor{newUVProcessor(logger, runner)},
	}
}

func (m *Manager) Name() string { return Name }

// Matches reports whether the file is a PEP 621 manifest.
func (m *Manager) Matches(filename string) bool {
	return filename == "pyproject.toml"
}

// Extract parses the manifest and returns every dependency declared
// in the standard tables plus whatever the processors contribute.
func (m *Manager) Extract(ctx context.Context, content []byte, packageFile string) ([]manager.PackageDependency, error) {
	project, err := ParsePyProject(content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", packageFile, err)
	}

	deps := m.parseDependencyList(depTypeDependencies, project.Project.Dependencies)
	for _, group := range sortedKeys(project.Project.OptionalDependencies) {
		deps = append(deps, m.parseDependencyList(depTypeOptionalDependencies, project.Project.OptionalDependencies[group])...)
	}
	for _, group := range sortedKeys(project.DependencyGroups) {
		deps = append(deps, m.parseDependencyList(depTypeDependencyGroups, stringEntries(project.DependencyGroups[group]))...)
	}

	for _, p := range m.processors {
		deps = p.Process(project, deps)
	}
	for _, p := range m.processors {
		deps = p.ExtractLockedVersions(ctx, project, deps, packageFile)
	}

	m.logger.Debug("extracted dependencies",
		zap.String("packageFile", packageFile),
		zap.Int("count", len(deps)))
	return deps, nil
}

// UpdateArtifacts re-locks after a manifest change. It returns
// (nil, nil) when no processor has an artifact to maintain, and a
// non-nil error only for transient failures worth retrying.
func (m *Manager) UpdateArtifacts(ctx context.Context, req *manager.UpdateArtifactsRequest) ([]manager.UpdateResult, error) {
	content := []byte(req.UpdatedContent)
	if len(content) == 0 {
		data, err := os.ReadFile(req.PackageFileName)
		if err != nil {
			return artifactFailure(siblingLockPath(req.PackageFileName), fmt.Sprintf("read manifest: %v", err)), nil
		}
		content = data
	}

	project, err := ParsePyProject(content)
	if err != nil {
		return artifactFailure(siblingLockPath(req.PackageFileName), err.Error()), nil
	}

	ran := false
	var results []manager.UpdateResult
	for _, p := range m.processors {
		res, err := p.UpdateArtifacts(ctx, req, project)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		ran = true
		results = append(results, res...)
	}
	if !ran {
		return nil, nil
	}
	if results == nil {
		results = []manager.UpdateResult{}
	}
	return results, nil
}

func (m *Manager) parseDependencyList(depType string, list []string) []manager.PackageDependency {
	deps := make([]manager.PackageDependency, 0, len(list))
	for _, raw := range list {
		dep := pep508ToDependency(depType, raw)
		if dep == nil {
			m.logger.Debug("skipping unparseable requirement",
				zap.String("depType", depType),
				zap.String("raw", raw))
			continue
		}
		deps = append(deps, *dep)
	}
	return deps
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stringEntries keeps the plain requirement strings of a PEP 735
// dependency group, dropping include-group tables.
func stringEntries(list []any) []string {
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
