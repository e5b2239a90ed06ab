// Package manager defines the dependency record shared by all manifest
// managers and the registry they plug into. A manager turns one manifest
// format into []PackageDependency; managers that maintain a lock artifact
// additionally implement ArtifactUpdater.
package manager

import "fmt"

// Datasource identifiers. These name where a dependency's versions live,
// not how to reach it; no registry is ever contacted here.
const (
	DatasourceDocker         = "docker"
	DatasourceGithubTags     = "github-tags"
	DatasourceGithubReleases = "github-releases"
	DatasourceGo             = "go"
	DatasourcePypi           = "pypi"
)

// UpdateTypeLockFileMaintenance marks a full lock refresh instead of a
// targeted package upgrade.
const UpdateTypeLockFileMaintenance = "lockFileMaintenance"

// Skip reasons recorded on dependencies that were found but cannot be
// updated.
const (
	SkipUnsupportedRemote     = "unsupported-remote"
	SkipUnspecifiedVersion    = "unspecified-version"
	SkipUnsupportedDatasource = "unsupported-datasource"
)

// PackageDependency is the normalized record every manager produces.
// Zero-valued fields mean "not applicable" for the given ecosystem.
type PackageDependency struct {
	// DepName is the name used in the manifest (e.g. the bazel target
	// name or the PyPI distribution name as written).
	DepName string `json:"depName" yaml:"depName"`

	// PackageName is the lookup key a datasource would use. Often equal
	// to DepName, but normalized (e.g. owner/repo, importpath).
	PackageName string `json:"packageName,omitempty" yaml:"packageName,omitempty"`

	// DepType records which manifest section declared the dependency.
	DepType string `json:"depType,omitempty" yaml:"depType,omitempty"`

	// Datasource names the ecosystem the dependency belongs to.
	Datasource string `json:"datasource,omitempty" yaml:"datasource,omitempty"`

	// CurrentValue is the version or tag as written in the manifest.
	CurrentValue string `json:"currentValue,omitempty" yaml:"currentValue,omitempty"`

	// CurrentDigest is the content digest when the manifest pins one.
	CurrentDigest string `json:"currentDigest,omitempty" yaml:"currentDigest,omitempty"`

	// LockedVersion is the exact version resolved by the lock artifact,
	// filled in by the manager's locked-version pass when available.
	LockedVersion string `json:"lockedVersion,omitempty" yaml:"lockedVersion,omitempty"`

	// RegistryURLs overrides the datasource's default registry.
	RegistryURLs []string `json:"registryUrls,omitempty" yaml:"registryUrls,omitempty"`

	// SkipReason explains why the dependency is recorded but will not
	// be updated.
	SkipReason string `json:"skipReason,omitempty" yaml:"skipReason,omitempty"`
}

// Upgrade is a dependency plus the intended update.
type Upgrade struct {
	PackageDependency

	// UpdateType classifies the upgrade. UpdateTypeLockFileMaintenance
	// requests a full re-resolution.
	UpdateType string `json:"updateType,omitempty"`

	// NewValue is the target version or tag, when known.
	NewValue string `json:"newValue,omitempty"`
}

// UpdateConfig carries the caller's settings for one artifact update.
type UpdateConfig struct {
	// UpdateType mirrors Upgrade.UpdateType at the operation level.
	UpdateType string

	// Constraints pins tool versions by name (e.g. "python", "uv").
	// Manifest-declared constraints fill any gaps.
	Constraints map[string]string

	// ExtraEnv is passed through to the tool invocation.
	ExtraEnv map[string]string
}

// UpdateArtifactsRequest asks a manager to bring its lock artifact in
// line with the updated manifest.
type UpdateArtifactsRequest struct {
	// PackageFileName is the manifest path. Lock paths derive from it.
	PackageFileName string

	// UpdatedContent is the manifest content after the dependency
	// update. Written to PackageFileName before the tool runs; when
	// empty the file on disk is used as is.
	UpdatedContent string

	// UpdatedDeps lists the upgrades that prompted the refresh.
	UpdatedDeps []Upgrade

	Config UpdateConfig
}

// FileChange types.
const (
	FileAddition = "addition"
	FileDeletion = "deletion"
)

// FileChange describes one artifact file the update produced.
type FileChange struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Contents []byte `json:"contents,omitempty"`
}

// ArtifactError reports a failed artifact update. It is data, not an
// error value: failed updates are an expected outcome.
type ArtifactError struct {
	// LockFile is the artifact that could not be refreshed.
	LockFile string `json:"lockFile"`

	// Stderr carries the tool's failure output or the error message.
	Stderr string `json:"stderr"`
}

// UpdateResult is one outcome of an artifact update: either a changed
// file or an artifact error.
type UpdateResult struct {
	File          *FileChange    `json:"file,omitempty"`
	ArtifactError *ArtifactError `json:"artifactError,omitempty"`
}

func (r UpdateResult) String() string {
	switch {
	case r.File != nil:
		return fmt.Sprintf("%s %s (%d bytes)", r.File.Type, r.File.Path, len(r.File.Contents))
	case r.ArtifactError != nil:
		return fmt.Sprintf("artifact error for %s", r.ArtifactError.LockFile)
	default:
		return "empty result"
	}
}
