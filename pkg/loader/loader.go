// Package loader resolves every configured library into a [cdn.Snapshot].
//
// For each library the loader lists the source refs, resolves them into
// versions, fetches each version's resource declaration and decides its
// status:
//
//   - declaration fetched: [cdn.Publishable]
//   - fetch failed, prior manifest entry exists: [cdn.Skipped], with entry
//     points reconstructed from the prior entry
//   - fetch failed, no prior entry: [cdn.Ignored]
//
// A declaration fetch failure never aborts loading. A ref listing failure
// does, because publishing a library without its refs would unpublish it.
//
// Declarations are immutable per commit and are cached under
// [cache.Keyer.DeclarationKey] without expiry.
package loader

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/manifest"
	"github.com/matzehuels/libcdn/pkg/observability"
	"github.com/matzehuels/libcdn/pkg/source"
	"github.com/matzehuels/libcdn/pkg/versions"
)

// DefaultConcurrency bounds concurrent declaration fetches per library.
const DefaultConcurrency = 8

// Spec is a configured library.
type Spec struct {
	ID     string
	Source string // Source locator, e.g. "github:owner/repo"
	Branch string // Tracked branch (default: the repository default branch)
}

// Options configures a load.
type Options struct {
	CDNVersion  string
	Concurrency int                // Concurrent libraries and per-library fetches (default: 8)
	Force       bool               // Mark every publishable version as needing update
	Prior       *manifest.Manifest // Last published manifest (nil for a first run)
	ContentDir  string             // Staged content tree holding provenance markers
}

// Loader builds snapshots from configured libraries.
type Loader struct {
	Open   source.Opener
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// New creates a Loader. A nil cache disables declaration caching and a nil
// logger discards output.
func New(open source.Opener, c cache.Cache, logger *log.Logger) *Loader {
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Loader{Open: open, Cache: c, Keyer: cache.NewDefaultKeyer(), Logger: logger}
}

// Load resolves and loads every library. Libraries in the returned snapshot
// are sorted by id.
func (l *Loader) Load(ctx context.Context, specs []Spec, opts Options) (*cdn.Snapshot, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	libs := make([]*cdn.Library, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			lib, err := l.loadLibrary(ctx, spec, opts, concurrency)
			if err != nil {
				return err
			}
			libs[i] = lib
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(libs, func(i, j int) bool { return libs[i].ID < libs[j].ID })
	return &cdn.Snapshot{CDNVersion: opts.CDNVersion, Libraries: libs}, nil
}

func (l *Loader) loadLibrary(ctx context.Context, spec Spec, opts Options, concurrency int) (*cdn.Library, error) {
	if err := liberrors.ValidateLibraryID(spec.ID); err != nil {
		return nil, err
	}
	provider, err := l.Open(spec.Source)
	if err != nil {
		return nil, err
	}
	refs, err := provider.ListRefs(ctx)
	if err != nil {
		code := liberrors.GetCode(err)
		if code == "" {
			code = liberrors.ErrCodeSourceUnavailable
		}
		return nil, liberrors.Wrap(code, err, "list refs of %s (%s)", spec.ID, spec.Source)
	}

	lib := &cdn.Library{ID: spec.ID, Source: spec.Source}
	for _, v := range versions.Resolve(refs, spec.Branch) {
		if err := liberrors.ValidateVersionName(v.Name); err != nil {
			l.Logger.Warn("skipping ref with unusable name", "library", spec.ID, "ref", v.Ref, "error", err)
			continue
		}
		if versions.IsAliasName(v.Name) {
			l.Logger.Warn("skipping ref named like an alias", "library", spec.ID, "ref", v.Ref)
			continue
		}
		lib.Versions = append(lib.Versions, v)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, v := range lib.Versions {
		g.Go(func() error {
			l.loadVersion(gctx, provider, lib, v, opts)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var names []string
	for v := range cdn.Listed(lib) {
		names = append(names, v.Name)
	}
	lib.Aliases = versions.ComputeAliases(names)
	lib.Display = display(lib, opts.Prior)

	l.Logger.Debug("loaded library", "library", lib.ID, "versions", len(lib.Versions), "aliases", len(lib.Aliases))
	return lib, nil
}

// loadVersion decides the status of v. It only writes to v, which no other
// goroutine touches.
func (l *Loader) loadVersion(ctx context.Context, provider source.Provider, lib *cdn.Library, v *cdn.Version, opts Options) {
	v.ViewURL = provider.ViewURL(v.Ref)

	prior := opts.Prior.Version(lib.ID, v.Name)
	if prior != nil {
		v.ManifestSHA = prior.GitSHA
	}
	if opts.ContentDir != "" {
		v.StagedSHA = readProvenance(filepath.Join(opts.ContentDir, lib.ID, v.Name))
	}

	decl, err := l.declaration(ctx, provider, lib.Source, v)
	switch {
	case err == nil:
		v.Status = cdn.Publishable{Declaration: decl}
	case prior != nil:
		l.Logger.Warn("declaration unavailable, keeping published content", "library", lib.ID, "version", v.Name, "error", err)
		v.Status = cdn.Skipped{Reason: "no valid " + cdn.DeclarationFile + " present anymore", Prior: prior.Prior()}
	default:
		l.Logger.Debug("ignoring version without declaration", "library", lib.ID, "version", v.Name, "error", err)
		v.Status = cdn.Ignored{Reason: "no valid " + cdn.DeclarationFile + " present"}
	}
	v.NeedsUpdate = cdn.NeedsUpdate(v, opts.Force)
}

// declaration returns the declaration of v, served from cache when the same
// commit was loaded before.
func (l *Loader) declaration(ctx context.Context, provider source.Provider, src string, v *cdn.Version) (*cdn.Declaration, error) {
	key := l.Keyer.DeclarationKey(src, v.CommitSHA)
	if v.CommitSHA != "" {
		if data, ok, _ := l.Cache.Get(ctx, key); ok {
			var decl cdn.Declaration
			if json.Unmarshal(data, &decl) == nil {
				observability.Cache().OnCacheHit(ctx, "declaration")
				return &decl, nil
			}
		}
		observability.Cache().OnCacheMiss(ctx, "declaration")
	}

	decl, err := provider.FetchDeclaration(ctx, v.Ref)
	if err != nil {
		return nil, err
	}
	if v.CommitSHA != "" {
		if data, err := json.Marshal(decl); err == nil {
			if l.Cache.Set(ctx, key, data, 0) == nil {
				observability.Cache().OnCacheSet(ctx, "declaration", len(data))
			}
		}
	}
	return decl, nil
}

// display picks the library display metadata: the declaration of the
// version "latest" points at, else the prior manifest entry, else the first
// publishable declaration. The name falls back to the library id.
func display(lib *cdn.Library, prior *manifest.Manifest) cdn.Display {
	var d cdn.Display
	if latest := lib.Version(lib.Aliases[cdn.LatestAlias]); latest != nil {
		if st, ok := latest.Status.(cdn.Publishable); ok {
			d = st.Declaration.Display()
		}
	}
	if d == (cdn.Display{}) {
		if pl := prior.Library(lib.ID); pl != nil {
			d = pl.Display()
		}
	}
	if d == (cdn.Display{}) {
		for _, decl := range cdn.PublishableVersions(lib) {
			d = decl.Display()
			break
		}
	}
	if d.Name == "" {
		d.Name = lib.ID
	}
	return d
}

// readProvenance returns the commit recorded in a staged version directory,
// or "" when none is staged.
func readProvenance(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, cdn.ProvenanceFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
