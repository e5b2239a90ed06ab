package pep621

import (
	"regexp"
	"strings"

	"relock/internal/manager"
)

// Skip reasons specific to python dependency declarations.
const (
	skipGitDependency       = "git-dependency"
	skipPathDependency      = "path-dependency"
	skipUnsupportedURL      = "unsupported-url"
	skipInheritedDependency = "inherited-dependency"
)

// pep508Pattern splits a requirement into distribution name, optional
// extras, optional version specifier, and optional environment marker.
var pep508Pattern = regexp.MustCompile(`(?i)^([a-z0-9](?:[a-z0-9._-]*[a-z0-9])?)\s*(\[[^\]]*\])?\s*([^;]*?)\s*(?:;\s*(.*))?$`)

var normalizeNamePattern = regexp.MustCompile(`[-_.]+`)

type pep508Requirement struct {
	name   string
	spec   string
	marker string
}

func parsePEP508(raw string) (pep508Requirement, bool) {
	m := pep508Pattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil || m[1] == "" {
		return pep508Requirement{}, false
	}
	return pep508Requirement{
		name:   m[1],
		spec:   strings.TrimSpace(m[3]),
		marker: m[4],
	}, true
}

// normalizePackageName applies PEP 503 normalization: lowercase with
// runs of separators collapsed to a single hyphen. Lock files store
// names in this form.
func normalizePackageName(name string) string {
	return strings.ToLower(normalizeNamePattern.ReplaceAllString(name, "-"))
}

// pep508ToDependency converts one requirement string. Unparseable
// entries yield nil; entries without a usable version carry a skip
// reason instead of being dropped.
func pep508ToDependency(depType, raw string) *manager.PackageDependency {
	req, ok := parsePEP508(raw)
	if !ok {
		return nil
	}

	dep := &manager.PackageDependency{
		DepName:     req.name,
		PackageName: normalizePackageName(req.name),
		DepType:     depType,
		Datasource:  manager.DatasourcePypi,
	}
	switch {
	case req.spec == "":
		dep.SkipReason = manager.SkipUnspecifiedVersion
	case strings.HasPrefix(req.spec, "@"):
		// PEP 508 direct reference; there is no registry to update
		// against.
		dep.SkipReason = skipUnsupportedURL
	default:
		dep.CurrentValue = req.spec
	}
	return dep
}
