package bazel

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relock/internal/manager"
)

func TestManagerMatches(t *testing.T) {
	m := New(nil)

	assert.True(t, m.Matches("WORKSPACE"))
	assert.True(t, m.Matches("WORKSPACE.bazel"))
	assert.True(t, m.Matches("legacy.WORKSPACE"))

	assert.False(t, m.Matches("BUILD"))
	assert.False(t, m.Matches("BUILD.bazel"))
	assert.False(t, m.Matches("WORKSPACE.bzl"))
	assert.False(t, m.Matches("pyproject.toml"))
}

func TestManagerExtract(t *testing.T) {
	content := []byte(`
http_archive(
    name = "rules_go",
    sha256 = "80a98277ad1311dacd837f9b16db62887702e9f1d1c4c9f796d0121a46c8e184",
    url = "https://github.com/bazelbuild/rules_go/releases/download/v0.46.0/rules_go-v0.46.0.zip",
)

container_pull(
    name = "ubuntu",
    registry = "index.docker.io",
    repository = "library/ubuntu",
    tag = "24.04",
)

git_repository(
    name = "com_google_absl",
    remote = "https://github.com/abseil/abseil-cpp.git",
    tag = "20240116.1",
)

local_repository(
    name = "ignored",
    path = "../elsewhere",
)

http_archive(
    name = "opaque_tarball",
    url = "https://cdn.example.com/blob.tar.gz",
    sha256 = "aaaa",
)
`)

	deps, err := New(nil).Extract(context.Background(), content, "WORKSPACE")
	require.NoError(t, err)

	want := []manager.PackageDependency{
		{
			DepName:      "rules_go",
			PackageName:  "bazelbuild/rules_go",
			DepType:      "http_archive",
			Datasource:   manager.DatasourceGithubReleases,
			CurrentValue: "v0.46.0",
		},
		{
			DepName:      "ubuntu",
			PackageName:  "library/ubuntu",
			DepType:      "container_pull",
			Datasource:   manager.DatasourceDocker,
			CurrentValue: "24.04",
			RegistryURLs: []string{"index.docker.io"},
		},
		{
			DepName:      "com_google_absl",
			PackageName:  "abseil/abseil-cpp",
			DepType:      "git_repository",
			Datasource:   manager.DatasourceGithubTags,
			CurrentValue: "20240116.1",
		},
	}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("extracted deps mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerExtract_NoDeps(t *testing.T) {
	deps, err := New(nil).Extract(context.Background(), []byte(`workspace(name = "empty")`), "WORKSPACE")
	require.NoError(t, err)
	assert.NotNil(t, deps)
	assert.Empty(t, deps)
}
