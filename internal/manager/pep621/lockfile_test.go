package pep621

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockFixture = `version = 1
requires-python = ">=3.11"

[[package]]
name = "requests"
version = "2.31.0"
source = { registry = "https://pypi.org/simple" }

[[package]]
name = "typing-extensions"
version = "4.12.2"
source = { registry = "https://pypi.org/simple" }

[[package]]
name = "myproject"
source = { virtual = "." }
`

func TestParseLockedVersions(t *testing.T) {
	versions, err := parseLockedVersions([]byte(lockFixture))
	require.NoError(t, err)

	// The virtual root package has no version and is dropped.
	assert.Equal(t, map[string]string{
		"requests":          "2.31.0",
		"typing-extensions": "4.12.2",
	}, versions)
}

func TestParseLockedVersions_Invalid(t *testing.T) {
	_, err := parseLockedVersions([]byte("version = [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), LockFileName)
}

func TestLockCache(t *testing.T) {
	cache := newLockCache(4)

	first, err := cache.versions([]byte(lockFixture))
	require.NoError(t, err)
	second, err := cache.versions([]byte(lockFixture))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.entries.Len())

	_, err = cache.versions([]byte(`version = 1`))
	require.NoError(t, err)
	assert.Equal(t, 2, cache.entries.Len())
}

func TestLockCache_InvalidNotCached(t *testing.T) {
	cache := newLockCache(4)
	_, err := cache.versions([]byte("not toml ["))
	require.Error(t, err)
	assert.Equal(t, 0, cache.entries.Len())
}

func TestSiblingLockPath(t *testing.T) {
	assert.Equal(t, filepath.Join("repo", "svc", LockFileName), siblingLockPath(filepath.Join("repo", "svc", "pyproject.toml")))
	assert.Equal(t, LockFileName, siblingLockPath("pyproject.toml"))
}
