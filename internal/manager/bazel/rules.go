// Package bazel extracts dependencies from WORKSPACE-style build files.
// A tree-sitter pass turns external-repository rule calls into fragments;
// flattened fragments are then validated against an ordered list of
// target shapes to recover typed dependencies.
package bazel

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"relock/internal/fragment"
	"relock/internal/manager"
)

// Rule names grouped by the target kind that validates them.
var (
	dockerRules = []string{"container_pull", "oci_pull"}
	gitRules    = []string{"git_repository", "new_git_repository"}
	goRules     = []string{"go_repository"}
	httpRules   = []string{"http_archive", "http_file", "_http_archive", "_http_file"}
)

// target is one supported declaration shape. fromData returns nil when
// the flattened call does not fit the shape.
type target struct {
	rules    []string
	fromData func(rule string, data map[string]any) *manager.PackageDependency
}

// targets lists every supported shape in precedence order. Validation
// walks this slice and stops at the first match.
var targets = []target{
	{rules: dockerRules, fromData: dockerDep},
	{rules: gitRules, fromData: gitDep},
	{rules: goRules, fromData: goDep},
	{rules: httpRules, fromData: httpDep},
}

// supportedRulePattern is the prefilter: a single anchored alternation
// over every rule name any target validates. Extraction consults it
// before building fragments so foreign calls cost one regexp match.
var supportedRulePattern = regexp.MustCompile("^(?:" + strings.Join(SupportedRules(), "|") + ")$")

// SupportedRules returns every recognized rule name in target order.
func SupportedRules() []string {
	var names []string
	for _, group := range [][]string{dockerRules, gitRules, goRules, httpRules} {
		names = append(names, group...)
	}
	return names
}

// SupportedRule reports whether a rule name belongs to a known target.
// Passing the prefilter does not imply the call will validate.
func SupportedRule(name string) bool {
	return supportedRulePattern.MatchString(name)
}

// DepFromFragment flattens a parsed fragment and validates it against
// the known targets. Fragments that flatten poorly or match no target
// yield nil.
func DepFromFragment(f fragment.Fragment) *manager.PackageDependency {
	data, err := fragment.Flatten(f)
	if err != nil {
		return nil
	}
	return DepFromFragmentData(data)
}

// DepFromFragmentData validates flattened call data. nil means no
// target matched; that is an expected outcome, not an error.
func DepFromFragmentData(data any) *manager.PackageDependency {
	record, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	return depFromTargets(targets, record)
}

func depFromTargets(candidates []target, record map[string]any) *manager.PackageDependency {
	rule, ok := str(record["rule"])
	if !ok || !SupportedRule(rule) {
		return nil
	}
	for _, t := range candidates {
		if !slices.Contains(t.rules, rule) {
			continue
		}
		if dep := t.fromData(rule, record); dep != nil {
			return dep
		}
	}
	return nil
}

// str returns v as a non-empty string.
func str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// optStr reads an optional string field. ok is false only when the
// field is present with a non-string value, which disqualifies the
// whole target.
func optStr(data map[string]any, key string) (string, bool) {
	v, present := data[key]
	if !present {
		return "", true
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false
	}
	return s, true
}

func dockerDep(rule string, data map[string]any) *manager.PackageDependency {
	name, ok := str(data["name"])
	if !ok {
		return nil
	}
	repository, ok := str(data["repository"])
	if !ok {
		return nil
	}
	registry, ok := optStr(data, "registry")
	if !ok {
		return nil
	}
	tag, ok := optStr(data, "tag")
	if !ok {
		return nil
	}
	digest, ok := optStr(data, "digest")
	if !ok {
		return nil
	}

	dep := &manager.PackageDependency{
		DepName:       name,
		PackageName:   repository,
		DepType:       rule,
		Datasource:    manager.DatasourceDocker,
		CurrentValue:  tag,
		CurrentDigest: digest,
	}
	if registry != "" {
		dep.RegistryURLs = []string{registry}
	}
	return dep
}

func gitDep(rule string, data map[string]any) *manager.PackageDependency {
	name, ok := str(data["name"])
	if !ok {
		return nil
	}
	remote, ok := str(data["remote"])
	if !ok {
		return nil
	}
	commit, ok := optStr(data, "commit")
	if !ok {
		return nil
	}
	tag, ok := optStr(data, "tag")
	if !ok {
		return nil
	}
	if commit == "" && tag == "" {
		return nil
	}

	dep := &manager.PackageDependency{
		DepName:       name,
		DepType:       rule,
		Datasource:    manager.DatasourceGithubTags,
		CurrentValue:  tag,
		CurrentDigest: commit,
	}
	if repo, ok := githubRemote(remote); ok {
		dep.PackageName = repo
	} else {
		dep.SkipReason = manager.SkipUnsupportedRemote
	}
	return dep
}

func goDep(rule string, data map[string]any) *manager.PackageDependency {
	name, ok := str(data["name"])
	if !ok {
		return nil
	}
	importpath, ok := str(data["importpath"])
	if !ok {
		return nil
	}
	tag, ok := optStr(data, "tag")
	if !ok {
		return nil
	}
	commit, ok := optStr(data, "commit")
	if !ok {
		return nil
	}
	version, ok := optStr(data, "version")
	if !ok {
		return nil
	}
	if tag == "" && commit == "" && version == "" {
		return nil
	}

	dep := &manager.PackageDependency{
		DepName:       name,
		PackageName:   importpath,
		DepType:       rule,
		Datasource:    manager.DatasourceGo,
		CurrentDigest: commit,
	}
	// Tag wins over a bzlmod-style version; a bare commit pins by digest.
	switch {
	case tag != "":
		dep.CurrentValue = tag
	case version != "":
		dep.CurrentValue = version
	}
	return dep
}

func httpDep(rule string, data map[string]any) *manager.PackageDependency {
	name, ok := str(data["name"])
	if !ok {
		return nil
	}
	if _, ok := optStr(data, "sha256"); !ok {
		return nil
	}
	if _, ok := optStr(data, "strip_prefix"); !ok {
		return nil
	}

	urls, ok := urlCandidates(data)
	if !ok {
		return nil
	}
	for _, raw := range urls {
		ref := parseGithubArchiveURL(raw)
		if ref == nil {
			continue
		}
		return &manager.PackageDependency{
			DepName:      name,
			PackageName:  ref.repo,
			DepType:      rule,
			Datasource:   ref.datasource,
			CurrentValue: ref.value,
		}
	}
	return nil
}

// urlCandidates collects the url field followed by the urls list, in
// declaration order. ok is false when neither field is usable.
func urlCandidates(data map[string]any) ([]string, bool) {
	var out []string
	if v, present := data["url"]; present {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	if v, present := data["urls"]; present {
		list, ok := v.([]any)
		if !ok {
			return nil, false
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

// githubRemote extracts owner/repo from a github.com remote URL.
func githubRemote(remote string) (string, bool) {
	u, err := url.Parse(remote)
	if err != nil || u.Host != "github.com" {
		return "", false
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}

type archiveRef struct {
	datasource string
	repo       string
	value      string
}

// parseGithubArchiveURL recognizes release-download and source-archive
// URLs on github.com and recovers the repo plus the tag or commit they
// reference.
func parseGithubArchiveURL(raw string) *archiveRef {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "github.com" {
		return nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return nil
	}
	repo := parts[0] + "/" + parts[1]

	var datasource, value string
	switch {
	case parts[2] == "releases" && parts[3] == "download" && len(parts) >= 5:
		datasource = manager.DatasourceGithubReleases
		value = parts[4]
	case parts[2] == "archive" && parts[3] == "refs" && len(parts) >= 6 && parts[4] == "tags":
		datasource = manager.DatasourceGithubTags
		value = parts[5]
	case parts[2] == "archive":
		datasource = manager.DatasourceGithubTags
		value = parts[3]
	default:
		return nil
	}

	for _, ext := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".zip"} {
		value = strings.TrimSuffix(value, ext)
	}
	if value == "" {
		return nil
	}
	return &archiveRef{datasource: datasource, repo: repo, value: value}
}
