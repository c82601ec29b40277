// Package versions resolves source refs into library versions and computes
// semantic-version aliases.
//
// Tag names are normalized by stripping a leading "v" when the remainder is
// a full major.minor.patch semantic version. The tracked branch is published
// under the reserved name [cdn.UnstableVersion]. Names that are not semantic
// versions stay addressable by their exact name but never receive aliases.
package versions

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/matzehuels/libcdn/pkg/cdn"
)

// NormalizeRefName returns the version name for a tag.
func NormalizeRefName(ref string) string {
	if v, ok := parse(ref); ok {
		return strings.TrimPrefix(semver.Canonical(v), "v")
	}
	return ref
}

// IsSemver reports whether a version name is a valid three-component
// semantic version.
func IsSemver(name string) bool {
	_, ok := parse(name)
	return ok
}

// IsAliasName reports whether name has the shape of an alias: "latest",
// "M.x.x" or "M.m.x". Such names are reserved for alias symlinks.
func IsAliasName(name string) bool {
	if name == cdn.LatestAlias {
		return true
	}
	parts := strings.Split(name, ".")
	if len(parts) != 3 || !isNumber(parts[0]) || parts[2] != "x" {
		return false
	}
	return parts[1] == "x" || isNumber(parts[1])
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve turns a ref listing into versions: one per tag plus one for the
// tracked branch. When branch is empty the repository default branch is
// tracked; a missing tracked branch yields no unstable version.
//
// Refs that normalize to the same name are resolved last-write-wins in
// listing order; the surviving version keeps the position of the first.
func Resolve(refs cdn.RefList, branch string) []*cdn.Version {
	if branch == "" {
		branch = refs.DefaultBranch
	}

	var out []*cdn.Version
	index := make(map[string]int)
	add := func(name string, ref cdn.Ref) {
		v := &cdn.Version{
			Name:       name,
			Ref:        ref.Name,
			CommitSHA:  ref.CommitSHA,
			TarballURL: ref.TarballURL,
		}
		if i, ok := index[name]; ok {
			out[i] = v
			return
		}
		index[name] = len(out)
		out = append(out, v)
	}

	for _, tag := range refs.Tags {
		add(NormalizeRefName(tag.Name), tag)
	}
	for _, b := range refs.Branches {
		if b.Name == branch {
			add(cdn.UnstableVersion, b)
			break
		}
	}
	return out
}

// ComputeAliases computes the alias map for a list of version names.
//
// For every stable semantic version M.m.p the aliases "M.x.x" and "M.m.x"
// are produced, each pointing at the highest version satisfying it. "latest"
// points at the highest stable version overall. Prereleases never satisfy an
// alias, and aliases without a satisfying version are omitted. The result
// depends only on the set of names, not their order.
func ComputeAliases(names []string) map[string]string {
	aliases := make(map[string]string)
	best := make(map[string]string) // alias -> canonical "v" form

	consider := func(alias, v string) {
		if cur, ok := best[alias]; !ok || semver.Compare(v, cur) > 0 {
			best[alias] = v
		}
	}

	for _, name := range names {
		v, ok := parse(name)
		if !ok || semver.Prerelease(v) != "" {
			continue
		}
		v = semver.Canonical(v)
		major := strings.TrimPrefix(semver.Major(v), "v")
		minor := strings.TrimPrefix(semver.MajorMinor(v), "v")
		consider(major+".x.x", v)
		consider(minor+".x", v)
		consider(cdn.LatestAlias, v)
	}

	for alias, v := range best {
		aliases[alias] = strings.TrimPrefix(v, "v")
	}
	return aliases
}

// Compare orders two version names: semantic versions by precedence first,
// then everything else lexically.
func Compare(a, b string) int {
	va, aok := parse(a)
	vb, bok := parse(b)
	switch {
	case aok && bok:
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

// parse returns the "v"-prefixed form of name if it is a full
// major.minor.patch semantic version.
func parse(name string) (string, bool) {
	s := strings.TrimSpace(name)
	if strings.HasPrefix(s, "v") || strings.HasPrefix(s, "V") {
		s = s[1:]
	}
	if s == "" {
		return "", false
	}
	v := "v" + s
	if !semver.IsValid(v) {
		return "", false
	}
	core := v
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") != 2 {
		return "", false
	}
	return v, true
}
