// Package pep621 extracts dependencies from pyproject.toml projects and
// reconciles the uv.lock artifact after dependency updates. Standard
// [project] tables are handled directly; tool-specific tables go through
// processors that can append dependencies, resolve locked versions, and
// drive the package manager.
package pep621

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// PyProject is the parsed pyproject.toml, limited to what the manager
// reads. Unknown tables and keys are ignored.
type PyProject struct {
	Project ProjectTable `toml:"project"`

	// DependencyGroups is the PEP 735 [dependency-groups] table. Values
	// stay untyped because entries mix requirement strings with
	// include-group tables; extraction keeps only the strings.
	DependencyGroups map[string][]any `toml:"dependency-groups"`

	Tool ToolTable `toml:"tool"`
}

// ProjectTable is the standard [project] table.
type ProjectTable struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	RequiresPython       string              `toml:"requires-python"`
	Dependencies         []string            `toml:"dependencies"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
}

// ToolTable holds the [tool.*] tables the manager knows about.
type ToolTable struct {
	UV *UVTable `toml:"uv"`
}

// UVTable is the [tool.uv] table.
type UVTable struct {
	DevDependencies []string            `toml:"dev-dependencies"`
	RequiredVersion string              `toml:"required-version"`
	Sources         map[string]UVSource `toml:"sources"`
}

// UVSource is one [tool.uv.sources] entry. Exactly one of the location
// fields is set in a valid file.
type UVSource struct {
	Git       string `toml:"git"`
	Rev       string `toml:"rev"`
	Tag       string `toml:"tag"`
	Branch    string `toml:"branch"`
	Path      string `toml:"path"`
	URL       string `toml:"url"`
	Index     string `toml:"index"`
	Workspace bool   `toml:"workspace"`
}

// ParsePyProject parses pyproject.toml content.
func ParsePyProject(content []byte) (*PyProject, error) {
	var project PyProject
	if err := toml.Unmarshal(content, &project); err != nil {
		return nil, fmt.Errorf("parse pyproject: %w", err)
	}
	return &project, nil
}
