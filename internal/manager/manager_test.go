package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubManager struct {
	name    string
	matches string
}

func (s stubManager) Name() string { return s.name }

func (s stubManager) Matches(filename string) bool { return filename == s.matches }

func (s stubManager) Extract(ctx context.Context, content []byte, path string) ([]PackageDependency, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubManager{name: "zz-stub", matches: "STUBFILE"})
	reg.Register(stubManager{name: "aa-stub", matches: "OTHERFILE"})

	t.Run("Get", func(t *testing.T) {
		m := reg.Get("zz-stub")
		require.NotNil(t, m)
		assert.Equal(t, "zz-stub", m.Name())
		assert.Nil(t, reg.Get("missing"))
	})

	t.Run("All is sorted by name", func(t *testing.T) {
		all := reg.All()
		require.Len(t, all, 2)
		assert.Equal(t, "aa-stub", all[0].Name())
		assert.Equal(t, "zz-stub", all[1].Name())
	})

	t.Run("Detect matches base name", func(t *testing.T) {
		m := reg.Detect("/some/dir/STUBFILE")
		require.NotNil(t, m)
		assert.Equal(t, "zz-stub", m.Name())

		assert.Nil(t, reg.Detect("/some/dir/unrelated.txt"))
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		assert.Panics(t, func() {
			reg.Register(stubManager{name: "zz-stub"})
		})
	})
}

func TestUpdateResultString(t *testing.T) {
	file := UpdateResult{File: &FileChange{Type: FileAddition, Path: "uv.lock", Contents: []byte("x")}}
	assert.Contains(t, file.String(), "uv.lock")

	artErr := UpdateResult{ArtifactError: &ArtifactError{LockFile: "uv.lock", Stderr: "boom"}}
	assert.Contains(t, artErr.String(), "artifact error")

	assert.Equal(t, "empty result", UpdateResult{}.String())
}
