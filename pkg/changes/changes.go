// Package changes detects what staging changed in the content tree.
//
// [HashTree] digests every file and symlink of a tree. Each digest covers a
// type tag and the content (file bytes or link target), so replacing a file
// with a symlink whose target equals the old bytes still registers as a
// change. [Diff] classifies the union of two hash snapshots into added,
// modified, deleted and unchanged paths.
package changes

import (
	"context"
	"encoding/hex"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/libcdn/pkg/cdn"
)

// Type tags mixed into every digest.
const (
	tagFile    = "FILE"
	tagSymlink = "SYMLINK"
)

// Hashes maps slash-separated relative paths to content digests.
type Hashes map[string]string

// HashTree digests every regular file and symlink under root, hashing up to
// concurrency files at once. Symlinks are not followed. The manifest and the
// dirty marker at the root are excluded; a missing root yields no hashes.
func HashTree(ctx context.Context, root string, concurrency int) (Hashes, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == cdn.ManifestPath || rel == cdn.DirtyMarker {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	hashes := make(Hashes, len(paths))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, err := Digest(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			mu.Lock()
			hashes[rel] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// Digest returns the hex blake3 digest of a file or symlink.
func Digest(p string) (string, error) {
	info, err := os.Lstat(p)
	if err != nil {
		return "", err
	}
	h := blake3.New()

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return "", err
		}
		h.Write([]byte(tagSymlink))
		h.Write([]byte{0})
		h.Write([]byte(target))
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h.Write([]byte(tagFile))
	h.Write([]byte{0})
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Set classifies every path of two hash snapshots. Each path appears in
// exactly one list; lists are sorted.
type Set struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string

	// OnlyManifestChanged reports that nothing but the manifest and
	// provenance markers changed, so there is no content to publish.
	OnlyManifestChanged bool
}

// Diff classifies the paths of before and after. The manifest path is
// dropped from both inputs since it is rewritten every run.
func Diff(before, after Hashes) *Set {
	s := &Set{}
	for p, sum := range after {
		if p == cdn.ManifestPath {
			continue
		}
		old, ok := before[p]
		switch {
		case !ok:
			s.Added = append(s.Added, p)
		case old != sum:
			s.Modified = append(s.Modified, p)
		default:
			s.Unchanged = append(s.Unchanged, p)
		}
	}
	for p := range before {
		if p == cdn.ManifestPath {
			continue
		}
		if _, ok := after[p]; !ok {
			s.Deleted = append(s.Deleted, p)
		}
	}
	sort.Strings(s.Added)
	sort.Strings(s.Modified)
	sort.Strings(s.Deleted)
	sort.Strings(s.Unchanged)

	s.classify()
	return s
}

// Carry adds paths that an earlier run changed locally without publishing.
// They differ from the published tree even when this run left them alone:
// a path still present in after becomes modified, a missing one deleted.
func (s *Set) Carry(paths []string, after Hashes) {
	changed := make(map[string]bool)
	for p := range s.Changed() {
		changed[p] = true
	}
	carried := false
	for _, p := range paths {
		if p == cdn.ManifestPath || changed[p] {
			continue
		}
		if _, ok := after[p]; ok {
			s.Unchanged = slices.DeleteFunc(s.Unchanged, func(u string) bool { return u == p })
			s.Modified = append(s.Modified, p)
		} else {
			s.Deleted = append(s.Deleted, p)
		}
		changed[p] = true
		carried = true
	}
	if carried {
		sort.Strings(s.Modified)
		sort.Strings(s.Deleted)
		s.classify()
	}
}

func (s *Set) classify() {
	s.OnlyManifestChanged = true
	for p := range s.Changed() {
		if !isMetadata(p) {
			s.OnlyManifestChanged = false
			return
		}
	}
}

// isMetadata reports whether a path only records bookkeeping and never
// content: the manifest or a provenance marker.
func isMetadata(p string) bool {
	return p == cdn.ManifestPath || path.Base(p) == cdn.ProvenanceFile
}

// Changed yields every added, modified and deleted path.
func (s *Set) Changed() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, list := range [][]string{s.Added, s.Modified, s.Deleted} {
			for _, p := range list {
				if !yield(p) {
					return
				}
			}
		}
	}
}

// Empty reports whether nothing was added, modified or deleted.
func (s *Set) Empty() bool {
	return len(s.Added)+len(s.Modified)+len(s.Deleted) == 0
}

// Counts returns the number of added, modified and deleted paths.
func (s *Set) Counts() (added, modified, deleted int) {
	return len(s.Added), len(s.Modified), len(s.Deleted)
}

// Upload returns the paths whose content must be uploaded: added and
// modified, sorted.
func (s *Set) Upload() []string {
	out := make([]string, 0, len(s.Added)+len(s.Modified))
	out = append(out, s.Added...)
	out = append(out, s.Modified...)
	sort.Strings(out)
	return out
}
