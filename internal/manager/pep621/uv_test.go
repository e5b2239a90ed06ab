package pep621

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relock/internal/manager"
	"relock/internal/sandbox"
)

const uvManifest = `[project]
name = "svc"
requires-python = ">=3.11"
dependencies = [
    "requests==2.30.0",
    "urllib3==1.26.0",
]

[tool.uv]
required-version = ">=0.4.0"
`

// fakeRunner records the invocation and plays back a scripted outcome.
type fakeRunner struct {
	calls       int
	lastCommand string
	lastOpts    sandbox.Options
	onRun       func(command string, opts sandbox.Options)
	result      *sandbox.Result
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, command string, opts sandbox.Options) (*sandbox.Result, error) {
	f.calls++
	f.lastCommand = command
	f.lastOpts = opts
	if f.onRun != nil {
		f.onRun(command, opts)
	}
	return f.result, f.err
}

// updateEnv lays out a manifest plus optional lock in a temp dir and
// returns the pieces every updater test needs.
func updateEnv(t *testing.T, lockContent string) (string, string, *fakeRunner, *Manager) {
	t.Helper()
	dir := t.TempDir()
	packageFile := filepath.Join(dir, "pyproject.toml")
	lockFile := filepath.Join(dir, LockFileName)
	require.NoError(t, os.WriteFile(packageFile, []byte(uvManifest), 0o644))
	if lockContent != "" {
		require.NoError(t, os.WriteFile(lockFile, []byte(lockContent), 0o644))
	}
	runner := &fakeRunner{result: &sandbox.Result{}}
	return packageFile, lockFile, runner, New(nil, runner)
}

func upgradeReq(packageFile string, names ...string) *manager.UpdateArtifactsRequest {
	req := &manager.UpdateArtifactsRequest{
		PackageFileName: packageFile,
		UpdatedContent:  uvManifest,
	}
	for _, name := range names {
		req.UpdatedDeps = append(req.UpdatedDeps, manager.Upgrade{
			PackageDependency: manager.PackageDependency{PackageName: name},
		})
	}
	return req
}

func TestUpdateArtifacts_NoLockFile(t *testing.T) {
	packageFile, lockFile, runner, m := updateEnv(t, "")

	res, err := m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, runner.calls)

	// An empty lock counts as absent.
	require.NoError(t, os.WriteFile(lockFile, nil, 0o644))
	res, err = m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, runner.calls)
}

func TestUpdateArtifacts_UpToDate(t *testing.T) {
	packageFile, _, runner, m := updateEnv(t, "version = 1\n")

	res, err := m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res)
	assert.Equal(t, 1, runner.calls)

	// The updated manifest was written before the tool ran.
	onDisk, err := os.ReadFile(packageFile)
	require.NoError(t, err)
	assert.Equal(t, uvManifest, string(onDisk))
}

func TestUpdateArtifacts_LockChanged(t *testing.T) {
	packageFile, lockFile, runner, m := updateEnv(t, "version = 1\n")
	refreshed := "version = 1\n\n[[package]]\nname = \"requests\"\nversion = \"2.32.0\"\n"
	runner.onRun = func(string, sandbox.Options) {
		require.NoError(t, os.WriteFile(lockFile, []byte(refreshed), 0o644))
	}

	res, err := m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	require.NoError(t, err)

	want := []manager.UpdateResult{{
		File: &manager.FileChange{
			Type:     manager.FileAddition,
			Path:     lockFile,
			Contents: []byte(refreshed),
		},
	}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("UpdateArtifacts() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateArtifacts_Invocation(t *testing.T) {
	packageFile, _, runner, m := updateEnv(t, "version = 1\n")
	req := upgradeReq(packageFile, "requests", "urllib3", "requests", "")
	req.Config.ExtraEnv = map[string]string{"UV_INDEX_URL": "https://mirror.example/simple"}

	_, err := m.UpdateArtifacts(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, runner.calls)

	// Duplicate names collapse to one flag, first occurrence wins.
	assert.Equal(t, "uv lock --upgrade-package requests --upgrade-package urllib3", runner.lastCommand)
	assert.Equal(t, filepath.Dir(packageFile), runner.lastOpts.Dir)
	assert.Equal(t, req.Config.ExtraEnv, runner.lastOpts.Env)
	assert.Equal(t, []sandbox.Tool{
		{Name: "python", Constraint: ">=3.11"},
		{Name: "uv", Constraint: ">=0.4.0"},
	}, runner.lastOpts.Tools)
}

func TestUpdateArtifacts_ConstraintsOverride(t *testing.T) {
	packageFile, _, runner, m := updateEnv(t, "version = 1\n")
	req := upgradeReq(packageFile, "requests")
	req.Config.Constraints = map[string]string{"python": "3.12", "uv": "0.5.1"}

	_, err := m.UpdateArtifacts(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []sandbox.Tool{
		{Name: "python", Constraint: "3.12"},
		{Name: "uv", Constraint: "0.5.1"},
	}, runner.lastOpts.Tools)
}

func TestUpdateArtifacts_Maintenance(t *testing.T) {
	t.Run("config level", func(t *testing.T) {
		packageFile, _, runner, m := updateEnv(t, "version = 1\n")
		req := upgradeReq(packageFile, "requests")
		req.Config.UpdateType = manager.UpdateTypeLockFileMaintenance

		_, err := m.UpdateArtifacts(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "uv lock --upgrade", runner.lastCommand)
	})

	t.Run("upgrade level", func(t *testing.T) {
		packageFile, _, runner, m := updateEnv(t, "version = 1\n")
		req := upgradeReq(packageFile, "requests")
		req.UpdatedDeps = append(req.UpdatedDeps, manager.Upgrade{UpdateType: manager.UpdateTypeLockFileMaintenance})

		_, err := m.UpdateArtifacts(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "uv lock --upgrade", runner.lastCommand)
	})
}

func TestUpdateArtifacts_ToolFailure(t *testing.T) {
	packageFile, lockFile, runner, m := updateEnv(t, "version = 1\n")
	runner.result = &sandbox.Result{ExitCode: 1, Stderr: "No solution found when resolving dependencies"}
	runner.err = &sandbox.ExitError{Code: 1, Stderr: runner.result.Stderr}

	res, err := m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].ArtifactError)
	assert.Equal(t, lockFile, res[0].ArtifactError.LockFile)
	assert.Equal(t, "No solution found when resolving dependencies", res[0].ArtifactError.Stderr)
	assert.Nil(t, res[0].File)
}

func TestUpdateArtifacts_EnvironmentUnavailable(t *testing.T) {
	packageFile, _, runner, m := updateEnv(t, "version = 1\n")
	runner.result = nil
	runner.err = fmt.Errorf("docker runtime not usable: %w", sandbox.ErrUnavailable)

	res, err := m.UpdateArtifacts(context.Background(), upgradeReq(packageFile, "requests"))
	assert.Nil(t, res)
	require.ErrorIs(t, err, sandbox.ErrUnavailable)
	assert.Equal(t, runner.err, err)
}

func TestUpdateArtifacts_BadManifest(t *testing.T) {
	packageFile, lockFile, runner, m := updateEnv(t, "version = 1\n")
	req := upgradeReq(packageFile, "requests")
	req.UpdatedContent = "[project\nbroken"

	res, err := m.UpdateArtifacts(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].ArtifactError)
	assert.Equal(t, lockFile, res[0].ArtifactError.LockFile)
	assert.Zero(t, runner.calls)
}

func TestUpdateArtifacts_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	packageFile := filepath.Join(dir, "pyproject.toml")
	m := New(nil, &fakeRunner{})

	res, err := m.UpdateArtifacts(context.Background(), &manager.UpdateArtifactsRequest{PackageFileName: packageFile})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].ArtifactError)
	assert.Contains(t, res[0].ArtifactError.Stderr, "read manifest")
}

func TestLockCommand(t *testing.T) {
	tests := []struct {
		name string
		req  *manager.UpdateArtifactsRequest
		want string
	}{
		{
			name: "no upgrades",
			req:  &manager.UpdateArtifactsRequest{},
			want: "uv lock",
		},
		{
			name: "single package",
			req:  upgradeReq("pyproject.toml", "requests"),
			want: "uv lock --upgrade-package requests",
		},
		{
			name: "duplicates and blanks dropped",
			req:  upgradeReq("pyproject.toml", "b", "a", "b", "", "a"),
			want: "uv lock --upgrade-package b --upgrade-package a",
		},
		{
			name: "maintenance wins",
			req: &manager.UpdateArtifactsRequest{
				UpdatedDeps: []manager.Upgrade{{UpdateType: manager.UpdateTypeLockFileMaintenance}},
			},
			want: "uv lock --upgrade",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lockCommand(tt.req))
		})
	}
}

func TestApplySource(t *testing.T) {
	base := func() manager.PackageDependency {
		return manager.PackageDependency{
			DepName:      "client",
			PackageName:  "client",
			Datasource:   manager.DatasourcePypi,
			CurrentValue: "==1.0.0",
		}
	}

	t.Run("git tag on github", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Git: "https://github.com/acme/client.git", Tag: "v1.2.0"})
		assert.Equal(t, manager.DatasourceGithubTags, dep.Datasource)
		assert.Equal(t, "acme/client", dep.PackageName)
		assert.Equal(t, "v1.2.0", dep.CurrentValue)
		assert.Empty(t, dep.SkipReason)
	})

	t.Run("git rev pin", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Git: "https://github.com/acme/client.git", Rev: "deadbeef"})
		assert.Equal(t, skipGitDependency, dep.SkipReason)
	})

	t.Run("git tag off github", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Git: "https://gitlab.com/acme/client.git", Tag: "v1.2.0"})
		assert.Equal(t, skipGitDependency, dep.SkipReason)
	})

	t.Run("path", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Path: "../client"})
		assert.Equal(t, skipPathDependency, dep.SkipReason)
	})

	t.Run("url", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{URL: "https://example.com/client-1.0.0.tar.gz"})
		assert.Equal(t, skipUnsupportedURL, dep.SkipReason)
	})

	t.Run("workspace", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Workspace: true})
		assert.Equal(t, skipInheritedDependency, dep.SkipReason)
	})

	t.Run("index untouched", func(t *testing.T) {
		dep := base()
		applySource(&dep, UVSource{Index: "internal"})
		assert.Equal(t, base(), dep)
	})
}

func TestGithubRepo(t *testing.T) {
	tests := []struct {
		remote string
		want   string
		ok     bool
	}{
		{"https://github.com/acme/client.git", "acme/client", true},
		{"https://github.com/acme/client", "acme/client", true},
		{"https://gitlab.com/acme/client.git", "", false},
		{"https://github.com/acme/group/client", "", false},
		{"git@github.com:acme/client.git", "", false},
	}
	for _, tt := range tests {
		got, ok := githubRepo(tt.remote)
		assert.Equal(t, tt.ok, ok, "githubRepo(%q)", tt.remote)
		assert.Equal(t, tt.want, got, "githubRepo(%q)", tt.remote)
	}
}
