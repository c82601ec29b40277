package cdn

import (
	"iter"
	"sort"
)

const (
	// ManifestPath is the manifest location relative to the content root.
	ManifestPath = "manifest.json"

	// ProvenanceFile is the per-version marker holding the staged commit SHA.
	ProvenanceFile = ".git-sha"

	// DirtyMarker is written at the content root while staging is in progress.
	DirtyMarker = ".staging"

	// DeclarationFile is the resource declaration path within a source snapshot.
	DeclarationFile = ".cdn-config.yml"

	// UnstableVersion is the reserved version name of the tracked branch.
	UnstableVersion = "unstable"

	// LatestAlias names the highest released version of a library.
	LatestAlias = "latest"
)

// Display is the human-facing metadata of a library.
type Display struct {
	Name        string
	Description string
	DocsURL     string
}

// Mapping copies files matching Src (a glob relative to the source snapshot)
// to Dest (relative to the version root, empty meaning the root itself).
type Mapping struct {
	Src  string
	Dest string
}

// Declaration is the parsed resource declaration of one source version.
type Declaration struct {
	Name        string
	Description string
	Docs        string
	Mappings    []Mapping
	Entrypoints map[string]string
}

// Display returns the library display metadata carried by the declaration.
func (d *Declaration) Display() Display {
	return Display{Name: d.Name, Description: d.Description, DocsURL: d.Docs}
}

// PriorEntry is what the last published manifest recorded for a version.
type PriorEntry struct {
	Ref         string
	CommitSHA   string
	TarballURL  string
	ViewURL     string
	Entrypoints map[string]string
}

// Status is the publish status of a version. It is one of [Ignored],
// [Skipped] or [Publishable].
type Status interface {
	status()
}

// Ignored marks a version that never had a valid declaration.
type Ignored struct {
	Reason string
}

// Skipped marks a published version whose declaration is no longer
// resolvable. Its content stays published as-is.
type Skipped struct {
	Reason string
	Prior  PriorEntry
}

// Publishable marks a version whose declaration was fetched.
type Publishable struct {
	Declaration *Declaration
}

func (Ignored) status()     {}
func (Skipped) status()     {}
func (Publishable) status() {}

// Version is one resolved version of a library.
type Version struct {
	Name        string // Normalized name ("1.2.3", "unstable", "feature-x")
	Ref         string // Source-native tag or branch name
	CommitSHA   string
	TarballURL  string
	ViewURL     string
	ManifestSHA string // Commit SHA recorded in the prior manifest, if any
	StagedSHA   string // Commit SHA read from the staged provenance marker, if any
	Status      Status
	NeedsUpdate bool
}

// Entrypoints returns the entry points of the version: the declared ones for
// publishable versions, the reconstructed ones for skipped versions.
func (v *Version) Entrypoints() map[string]string {
	switch st := v.Status.(type) {
	case Publishable:
		return st.Declaration.Entrypoints
	case Skipped:
		return st.Prior.Entrypoints
	default:
		return nil
	}
}

// Library is one configured library after resolution and loading.
type Library struct {
	ID       string
	Source   string // Source locator, e.g. "github:owner/repo"
	Versions []*Version
	Aliases  map[string]string // alias -> version name
	Display  Display
}

// Version returns the version with the given name, or nil.
func (l *Library) Version(name string) *Version {
	for _, v := range l.Versions {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// AliasesOf returns the sorted alias names pointing at the version.
func (l *Library) AliasesOf(name string) []string {
	var out []string
	for alias, target := range l.Aliases {
		if target == name {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot is the immutable result of resolving and loading every library.
type Snapshot struct {
	CDNVersion string
	Libraries  []*Library // Sorted by ID
}

// Library returns the library with the given id, or nil.
func (s *Snapshot) Library(id string) *Library {
	for _, l := range s.Libraries {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// Listed yields the versions of lib that appear in the manifest.
func Listed(lib *Library) iter.Seq[*Version] {
	return func(yield func(*Version) bool) {
		for _, v := range lib.Versions {
			if _, ok := v.Status.(Ignored); ok {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// PublishableVersions yields the versions of lib that have a declaration
// together with it.
func PublishableVersions(lib *Library) iter.Seq2[*Version, *Declaration] {
	return func(yield func(*Version, *Declaration) bool) {
		for _, v := range lib.Versions {
			st, ok := v.Status.(Publishable)
			if !ok {
				continue
			}
			if !yield(v, st.Declaration) {
				return
			}
		}
	}
}

// Target pairs a library with one of its versions.
type Target struct {
	Library *Library
	Version *Version
}

// NeedingUpdate returns every version of the snapshot that must be staged,
// ordered by library id then version order.
func NeedingUpdate(s *Snapshot) []Target {
	var out []Target
	for _, lib := range s.Libraries {
		for _, v := range lib.Versions {
			if v.NeedsUpdate {
				out = append(out, Target{Library: lib, Version: v})
			}
		}
	}
	return out
}

// NeedsUpdate reports whether a version must be restaged. Only publishable
// versions are ever staged; they need it when a reload is forced or the
// resolved commit differs from the manifest or from the staged content.
func NeedsUpdate(v *Version, force bool) bool {
	if _, ok := v.Status.(Publishable); !ok {
		return false
	}
	if force {
		return true
	}
	return v.CommitSHA != v.ManifestSHA || v.CommitSHA != v.StagedSHA
}

// Ref is a tag or branch as listed by a source provider.
type Ref struct {
	Name       string // Source-native name, e.g. "v1.2.0" or "master"
	CommitSHA  string
	TarballURL string
}

// RefList is the complete ref listing of a source repository.
type RefList struct {
	Tags          []Ref
	Branches      []Ref
	DefaultBranch string
}
