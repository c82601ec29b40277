// Package invalidate computes and submits edge-cache purges for a publish.
//
// [Paths] derives the public path patterns affected by a run: every version
// that was restaged, every alias pointing at it, every alias whose target
// changed, every removed version and the manifest. A [Purger] submits them to the cache provider.
package invalidate

import (
	"context"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/changes"
)

// Purger submits path patterns to an edge cache and returns the id of the
// invalidation it created.
type Purger interface {
	Invalidate(ctx context.Context, paths []string) (string, error)
}

// Paths returns the sorted, de-duplicated public paths to purge. pruned
// lists the "<lib>" and "<lib>/<version>" entries removed during staging.
// Nothing is returned when only the manifest changed and nothing was pruned.
func Paths(set *changes.Set, s *cdn.Snapshot, pruned []string) []string {
	if set.OnlyManifestChanged && len(pruned) == 0 {
		return nil
	}

	seen := map[string]bool{"/" + cdn.ManifestPath: true}
	for _, t := range cdn.NeedingUpdate(s) {
		seen[pattern(t.Library.ID, t.Version.Name)] = true
		for _, alias := range t.Library.AliasesOf(t.Version.Name) {
			seen[pattern(t.Library.ID, alias)] = true
		}
	}
	// "<lib>/<alias>" is an alias symlink; restaged version files are
	// covered above.
	for _, p := range set.Upload() {
		if lib, alias, ok := strings.Cut(p, "/"); ok && !strings.Contains(alias, "/") {
			seen[pattern(lib, alias)] = true
		}
	}
	for _, p := range set.Deleted {
		if lib, rest, ok := strings.Cut(p, "/"); ok {
			name, _, _ := strings.Cut(rest, "/")
			seen[pattern(lib, name)] = true
		}
	}
	for _, p := range pruned {
		seen["/"+p+"/*"] = true
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func pattern(lib, name string) string {
	return "/" + lib + "/" + name + "/*"
}

// NoopPurger logs the paths it would purge.
type NoopPurger struct {
	Logger *log.Logger
}

// Invalidate implements Purger.
func (n NoopPurger) Invalidate(ctx context.Context, paths []string) (string, error) {
	if n.Logger != nil {
		n.Logger.Info("invalidation disabled", "paths", len(paths))
	}
	return "", nil
}
