package manager

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
)

// Manager extracts dependencies from one manifest format.
type Manager interface {
	// Name is the manager's stable identifier (e.g. "bazel").
	Name() string

	// Matches reports whether the manager handles the given file. Only
	// the base name is considered.
	Matches(filename string) bool

	// Extract parses manifest content into dependency records. A
	// manifest with no recognizable dependencies yields an empty slice,
	// not an error.
	Extract(ctx context.Context, content []byte, path string) ([]PackageDependency, error)
}

// ArtifactUpdater is implemented by managers that maintain a lock
// artifact alongside the manifest.
type ArtifactUpdater interface {
	// UpdateArtifacts reconciles the lock artifact after a manifest
	// change. A nil result means there was nothing to do; an empty
	// result means the tool ran and the artifact was already current.
	UpdateArtifacts(ctx context.Context, req *UpdateArtifactsRequest) ([]UpdateResult, error)
}

// Registry holds the managers available to one invocation. Managers
// are constructed with their dependencies (logger, command runner) and
// registered explicitly; there is no package-level registration.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]Manager
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]Manager)}
}

// Register adds a manager. A duplicate name panics: two managers
// claiming one name is a wiring bug, not a runtime condition.
func (r *Registry) Register(m Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.managers[m.Name()]; dup {
		panic("manager: Register called twice for " + m.Name())
	}
	r.managers[m.Name()] = m
}

// Get returns the named manager, or nil.
func (r *Registry) Get(name string) Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.managers[name]
}

// All returns the registered managers sorted by name.
func (r *Registry) All() []Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Detect returns the first manager (in name order) that matches the
// file's base name, or nil if none does.
func (r *Registry) Detect(path string) Manager {
	base := filepath.Base(path)
	for _, m := range r.All() {
		if m.Matches(base) {
			return m
		}
	}
	return nil
}
