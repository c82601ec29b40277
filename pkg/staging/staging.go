// Package staging materializes library versions into the canonical content
// tree.
//
// The content tree has one directory per library and one directory per
// published version beneath it:
//
//	<content>/
//	  manifest.json
//	  demo/
//	    1.0.0/           staged files and the .git-sha provenance marker
//	    1.1.0/
//	    unstable/
//	    1.x.x -> 1.1.0   alias symlinks
//	    latest -> 1.1.0
//
// Only versions that need an update are staged. Each one is downloaded
// into a scratch directory, its resource mappings are copied into place and
// the provenance marker is written last. Alias symlinks are rewritten for
// every library once all versions are staged.
//
// A dirty marker at the content root brackets all mutations. If a run dies
// mid-staging the marker survives and [IsDirty] tells the next run not to
// trust the tree.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/observability"
	"github.com/matzehuels/libcdn/pkg/source"
)

// DefaultConcurrency bounds how many versions are staged at once.
const DefaultConcurrency = 4

// Stager writes versions into a content tree.
type Stager struct {
	ContentDir  string        // Canonical content tree
	WorkDir     string        // Scratch space for source snapshots (default: os.TempDir())
	Open        source.Opener // Resolves library source locators
	Concurrency int           // Versions staged at once (default: 4)
	Prune       bool          // Remove versions and libraries that are no longer listed
	Logger      *log.Logger
}

// Result summarizes a staging pass.
type Result struct {
	Staged   []cdn.Target // Versions that were restaged
	Files    int          // Files copied across all staged versions
	Pruned   []string     // Removed "<lib>" or "<lib>/<version>" directories, sorted
	Duration time.Duration
}

// Stage restages every version of s that needs an update, rewrites alias
// symlinks for every library and, when pruning, removes stale directories.
// Any failure aborts with a STAGING_FAILURE and leaves the dirty marker in
// place.
func (st *Stager) Stage(ctx context.Context, s *cdn.Snapshot) (*Result, error) {
	start := time.Now()
	logger := st.logger()

	if err := os.MkdirAll(st.ContentDir, 0o755); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "create content tree")
	}
	if err := MarkDirty(st.ContentDir); err != nil {
		return nil, err
	}

	targets := cdn.NeedingUpdate(s)
	res := &Result{Staged: targets}
	var files atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	limit := st.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for _, t := range targets {
		g.Go(func() error {
			n, err := st.stageVersion(gctx, t.Library, t.Version)
			if err != nil {
				return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "stage %s/%s", t.Library.ID, t.Version.Name)
			}
			files.Add(int64(n))
			observability.Pipeline().OnVersionStaged(gctx, t.Library.ID, t.Version.Name, n)
			logger.Info("staged version", "library", t.Library.ID, "version", t.Version.Name, "ref", t.Version.Ref, "files", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Files = int(files.Load())

	for _, lib := range s.Libraries {
		if err := st.writeAliases(lib); err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "write aliases of %s", lib.ID)
		}
	}

	if st.Prune {
		pruned, err := st.prune(s)
		if err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "prune content tree")
		}
		for _, p := range pruned {
			logger.Info("pruned", "path", p)
		}
		res.Pruned = pruned
	}

	if err := ClearDirty(st.ContentDir); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// stageVersion replaces the directory of one version. The snapshot is
// downloaded before anything is removed so a failed download leaves the
// published content untouched.
func (st *Stager) stageVersion(ctx context.Context, lib *cdn.Library, v *cdn.Version) (int, error) {
	decl, ok := v.Status.(cdn.Publishable)
	if !ok {
		return 0, fmt.Errorf("version is not publishable")
	}
	provider, err := st.Open(lib.Source)
	if err != nil {
		return 0, err
	}

	workDir := st.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return 0, err
	}
	work, err := os.MkdirTemp(workDir, lib.ID+"-"+v.Name+"-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(work)

	if err := provider.DownloadSnapshot(ctx, v.Ref, work); err != nil {
		return 0, fmt.Errorf("download %s: %w", v.Ref, err)
	}

	dest := filepath.Join(st.ContentDir, lib.ID, v.Name)
	if err := os.RemoveAll(dest); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}

	total := 0
	for _, m := range decl.Declaration.Mappings {
		n, err := copyMapping(work, dest, m)
		if err != nil {
			return 0, fmt.Errorf("copy %s: %w", m.Src, err)
		}
		if n == 0 {
			st.logger().Warn("resource mapping matched no files", "library", lib.ID, "version", v.Name, "src", m.Src)
		}
		total += n
	}

	if err := WriteProvenance(dest, v.CommitSHA); err != nil {
		return 0, err
	}
	return total, ctx.Err()
}

// writeAliases makes the alias symlinks of lib match its alias set. Each
// alias is a relative symlink to the version directory. Symlinks that are
// no longer aliases are removed; real directories are never touched.
func (st *Stager) writeAliases(lib *cdn.Library) error {
	libDir := filepath.Join(st.ContentDir, lib.ID)
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return err
	}

	for alias, version := range lib.Aliases {
		link := filepath.Join(libDir, alias)
		if info, err := os.Lstat(link); err == nil && info.Mode()&os.ModeSymlink == 0 {
			st.logger().Warn("alias shadowed by a version directory", "library", lib.ID, "alias", alias)
			continue
		}
		if current, err := os.Readlink(link); err == nil && current == version {
			continue
		}
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(version, link); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(libDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if _, ok := lib.Aliases[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(libDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// prune removes version directories that are no longer listed and library
// directories that are no longer configured. Hidden entries and plain files
// at the content root are kept.
func (st *Stager) prune(s *cdn.Snapshot) ([]string, error) {
	var pruned []string
	libs := make(map[string]*cdn.Library, len(s.Libraries))
	for _, lib := range s.Libraries {
		libs[lib.ID] = lib
	}

	roots, err := os.ReadDir(st.ContentDir)
	if err != nil {
		return nil, err
	}
	for _, e := range roots {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		lib, ok := libs[e.Name()]
		if !ok {
			if err := os.RemoveAll(filepath.Join(st.ContentDir, e.Name())); err != nil {
				return nil, err
			}
			pruned = append(pruned, e.Name())
			continue
		}

		listed := make(map[string]bool)
		for v := range cdn.Listed(lib) {
			listed[v.Name] = true
		}
		versions, err := os.ReadDir(filepath.Join(st.ContentDir, lib.ID))
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			if !v.IsDir() || strings.HasPrefix(v.Name(), ".") || listed[v.Name()] {
				continue
			}
			if err := os.RemoveAll(filepath.Join(st.ContentDir, lib.ID, v.Name())); err != nil {
				return nil, err
			}
			pruned = append(pruned, lib.ID+"/"+v.Name())
		}
	}
	sort.Strings(pruned)
	return pruned, nil
}

func (st *Stager) logger() *log.Logger {
	if st.Logger == nil {
		return log.New(io.Discard)
	}
	return st.Logger
}

// MarkDirty writes the dirty marker at the root of a content tree.
func MarkDirty(contentDir string) error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(filepath.Join(contentDir, cdn.DirtyMarker), []byte(stamp), 0o644); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "write dirty marker")
	}
	return nil
}

// ClearDirty removes the dirty marker. A missing marker is not an error.
func ClearDirty(contentDir string) error {
	err := os.Remove(filepath.Join(contentDir, cdn.DirtyMarker))
	if err != nil && !os.IsNotExist(err) {
		return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "remove dirty marker")
	}
	return nil
}

// IsDirty reports whether a previous run left staging unfinished.
func IsDirty(contentDir string) bool {
	_, err := os.Lstat(filepath.Join(contentDir, cdn.DirtyMarker))
	return err == nil
}

// WriteProvenance records the staged commit in a version directory.
func WriteProvenance(versionDir, commitSHA string) error {
	return os.WriteFile(filepath.Join(versionDir, cdn.ProvenanceFile), []byte(commitSHA), 0o644)
}
