package pep621

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pelletier/go-toml/v2"
)

// LockFileName is the artifact uv maintains next to pyproject.toml.
const LockFileName = "uv.lock"

// uvLock is the subset of the lock schema the resolver reads. Names
// are already PEP 503 normalized on disk.
type uvLock struct {
	Version  int             `toml:"version"`
	Packages []uvLockPackage `toml:"package"`
}

type uvLockPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// siblingLockPath derives the lock artifact path for a manifest. The
// lock always sits beside pyproject.toml.
func siblingLockPath(packageFile string) string {
	return filepath.Join(filepath.Dir(packageFile), LockFileName)
}

// lockCache memoizes parsed lock content by digest. An update run
// reads the same bytes before and after invoking the tool, and a
// watch loop re-reads them on every manifest event.
type lockCache struct {
	entries *lru.Cache[string, map[string]string]
}

func newLockCache(size int) *lockCache {
	entries, _ := lru.New[string, map[string]string](size)
	return &lockCache{entries: entries}
}

// versions returns the name to pinned version mapping for the given
// lock content.
func (c *lockCache) versions(content []byte) (map[string]string, error) {
	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])
	if cached, ok := c.entries.Get(key); ok {
		return cached, nil
	}
	parsed, err := parseLockedVersions(content)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, parsed)
	return parsed, nil
}

func parseLockedVersions(content []byte) (map[string]string, error) {
	var lock uvLock
	if err := toml.Unmarshal(content, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", LockFileName, err)
	}
	versions := make(map[string]string, len(lock.Packages))
	for _, pkg := range lock.Packages {
		if pkg.Name == "" || pkg.Version == "" {
			continue
		}
		versions[pkg.Name] = pkg.Version
	}
	return versions, nil
}
