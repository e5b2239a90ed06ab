package pep621

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"relock/internal/manager"
	"relock/internal/sandbox"
)

// uvProcessor implements the uv backend: the [tool.uv] dependency
// tables, source redirects, and the uv.lock artifact workflow.
type uvProcessor struct {
	logger *zap.Logger
	runner sandbox.Runner
	locks  *lockCache
}

func newUVProcessor(logger *zap.Logger, runner sandbox.Runner) *uvProcessor {
	return &uvProcessor{
		logger: logger.Named("uv"),
		runner: runner,
		locks:  newLockCache(128),
	}
}

// Process appends uv's legacy dev-dependencies list and applies
// [tool.uv.sources] redirects to everything collected so far.
func (p *uvProcessor) Process(project *PyProject, deps []manager.PackageDependency) []manager.PackageDependency {
	uv := project.Tool.UV
	if uv == nil {
		return deps
	}
	for _, raw := range uv.DevDependencies {
		dep := pep508ToDependency(depTypeUVDevDependencies, raw)
		if dep == nil {
			p.logger.Debug("skipping unparseable requirement",
				zap.String("depType", depTypeUVDevDependencies),
				zap.String("raw", raw))
			continue
		}
		deps = append(deps, *dep)
	}
	return p.applySources(deps, uv.Sources)
}

// applySources rewrites dependencies that [tool.uv.sources] redirects
// away from the default index. Source keys are matched by normalized
// name.
func (p *uvProcessor) applySources(deps []manager.PackageDependency, sources map[string]UVSource) []manager.PackageDependency {
	if len(sources) == 0 {
		return deps
	}
	normalized := make(map[string]UVSource, len(sources))
	for name, src := range sources {
		normalized[normalizePackageName(name)] = src
	}
	for i := range deps {
		if src, ok := normalized[deps[i].PackageName]; ok {
			applySource(&deps[i], src)
		}
	}
	return deps
}

func applySource(dep *manager.PackageDependency, src UVSource) {
	switch {
	case src.Git != "":
		if src.Tag != "" {
			if repo, ok := githubRepo(src.Git); ok {
				dep.Datasource = manager.DatasourceGithubTags
				dep.PackageName = repo
				dep.CurrentValue = src.Tag
				return
			}
		}
		// Rev and branch pins have no comparable upstream releases.
		dep.SkipReason = skipGitDependency
	case src.Path != "":
		dep.SkipReason = skipPathDependency
	case src.URL != "":
		dep.SkipReason = skipUnsupportedURL
	case src.Workspace:
		dep.SkipReason = skipInheritedDependency
	}
	// Index sources resolve against a registry and stay updatable.
}

// githubRepo extracts "owner/repo" from a github.com clone URL.
func githubRepo(remote string) (string, bool) {
	u, err := url.Parse(remote)
	if err != nil || u.Host != "github.com" {
		return "", false
	}
	path := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	if strings.Count(path, "/") != 1 {
		return "", false
	}
	return path, true
}

// ExtractLockedVersions back-fills LockedVersion from a sibling
// uv.lock. A missing or unreadable lock leaves the input untouched;
// extraction never fails on lock state.
func (p *uvProcessor) ExtractLockedVersions(ctx context.Context, project *PyProject, deps []manager.PackageDependency, packageFile string) []manager.PackageDependency {
	lockPath := siblingLockPath(packageFile)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Debug("cannot read lock file", zap.String("lockFile", lockPath), zap.Error(err))
		}
		return deps
	}
	if len(content) == 0 {
		return deps
	}

	versions, err := p.locks.versions(content)
	if err != nil {
		p.logger.Debug("cannot parse lock file", zap.String("lockFile", lockPath), zap.Error(err))
		return deps
	}

	matched := 0
	for i := range deps {
		if deps[i].PackageName == "" {
			continue
		}
		if v, ok := versions[deps[i].PackageName]; ok {
			deps[i].LockedVersion = v
			matched++
		}
	}
	p.logger.Debug("resolved locked versions",
		zap.String("lockFile", lockPath),
		zap.Int("matched", matched))
	return deps
}

// UpdateArtifacts re-locks uv.lock after a manifest change. Without a
// lock file there is nothing to maintain and the result is (nil, nil).
// Tool failures become an ArtifactError result; only an unavailable
// execution environment surfaces as an error, unwrapped so callers can
// match it and retry.
func (p *uvProcessor) UpdateArtifacts(ctx context.Context, req *manager.UpdateArtifactsRequest, project *PyProject) ([]manager.UpdateResult, error) {
	lockPath := siblingLockPath(req.PackageFileName)
	logger := p.logger.With(
		zap.String("run", uuid.NewString()),
		zap.String("lockFile", lockPath))

	existing, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("no lock file, nothing to update")
			return nil, nil
		}
		return artifactFailure(lockPath, fmt.Sprintf("read lock file: %v", err)), nil
	}
	if len(existing) == 0 {
		logger.Debug("empty lock file, nothing to update")
		return nil, nil
	}

	if req.UpdatedContent != "" {
		if err := os.WriteFile(req.PackageFileName, []byte(req.UpdatedContent), 0o644); err != nil {
			return artifactFailure(lockPath, fmt.Sprintf("write manifest: %v", err)), nil
		}
	}

	command := lockCommand(req)
	logger.Info("updating lock file", zap.String("command", command))

	res, err := p.runner.Run(ctx, command, sandbox.Options{
		Dir:   filepath.Dir(req.PackageFileName),
		Env:   req.Config.ExtraEnv,
		Tools: toolConstraints(req.Config.Constraints, project),
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			logger.Warn("execution environment unavailable", zap.Error(err))
			return nil, err
		}
		stderr := err.Error()
		if res != nil && res.Stderr != "" {
			stderr = res.Stderr
		}
		logger.Warn("lock update failed", zap.Error(err))
		return artifactFailure(lockPath, stderr), nil
	}

	updated, err := os.ReadFile(lockPath)
	if err != nil {
		return artifactFailure(lockPath, fmt.Sprintf("reread lock file: %v", err)), nil
	}
	if bytes.Equal(existing, updated) {
		logger.Debug("lock file already up to date")
		return []manager.UpdateResult{}, nil
	}

	logger.Info("lock file updated", zap.Int("bytes", len(updated)))
	return []manager.UpdateResult{{
		File: &manager.FileChange{
			Type:     manager.FileAddition,
			Path:     lockPath,
			Contents: updated,
		},
	}}, nil
}

// maintenanceMode reports whether the run refreshes the whole lock
// rather than targeted packages.
func maintenanceMode(req *manager.UpdateArtifactsRequest) bool {
	if req.Config.UpdateType == manager.UpdateTypeLockFileMaintenance {
		return true
	}
	for _, up := range req.UpdatedDeps {
		if up.UpdateType == manager.UpdateTypeLockFileMaintenance {
			return true
		}
	}
	return false
}

// lockCommand builds the uv invocation. Maintenance refreshes every
// pin; otherwise each distinct package gets one --upgrade-package
// flag, ordered by first occurrence.
func lockCommand(req *manager.UpdateArtifactsRequest) string {
	if maintenanceMode(req) {
		return "uv lock --upgrade"
	}
	var sb strings.Builder
	sb.WriteString("uv lock")
	seen := make(map[string]struct{}, len(req.UpdatedDeps))
	for _, up := range req.UpdatedDeps {
		name := up.PackageName
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		sb.WriteString(" --upgrade-package ")
		sb.WriteString(shellquote.Join(name))
	}
	return sb.String()
}

// toolConstraints picks version constraints for the tools the sandbox
// must provide. Explicit config wins over manifest declarations.
func toolConstraints(constraints map[string]string, project *PyProject) []sandbox.Tool {
	python := constraints["python"]
	if python == "" {
		python = project.Project.RequiresPython
	}
	uvVersion := constraints["uv"]
	if uvVersion == "" && project.Tool.UV != nil {
		uvVersion = project.Tool.UV.RequiredVersion
	}
	return []sandbox.Tool{
		{Name: "python", Constraint: python},
		{Name: "uv", Constraint: uvVersion},
	}
}

func artifactFailure(lockPath, stderr string) []manager.UpdateResult {
	return []manager.UpdateResult{{
		ArtifactError: &manager.ArtifactError{LockFile: lockPath, Stderr: stderr},
	}}
}
