// Package storage mirrors the content tree into the object store the CDN
// serves from.
//
// Alias symlinks are dereferenced: every alias is stored as a full copy of
// the version it points at, because object stores have no links. Objects
// that no longer exist locally are removed.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// DefaultConcurrency bounds concurrent object writes.
const DefaultConcurrency = 8

// Syncer uploads a local directory to object storage. It reports whether
// any remote object was removed.
type Syncer interface {
	Sync(ctx context.Context, localDir string) (deletedRemoved bool, err error)
}

// DirSyncer mirrors into a directory, e.g. the document root of a web
// server or a mounted bucket.
type DirSyncer struct {
	Dir         string
	Concurrency int
	Logger      *log.Logger
}

var _ Syncer = (*DirSyncer)(nil)

// Sync implements Syncer. Only objects whose content differs are written.
func (d *DirSyncer) Sync(ctx context.Context, localDir string) (bool, error) {
	local, err := collect(localDir)
	if err != nil {
		return false, liberrors.Wrap(liberrors.ErrCodeSyncFailure, err, "scan %s", localDir)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return false, liberrors.Wrap(liberrors.ErrCodeSyncFailure, err, "create %s", d.Dir)
	}
	remote, err := collect(d.Dir)
	if err != nil {
		return false, liberrors.Wrap(liberrors.ErrCodeSyncFailure, err, "scan %s", d.Dir)
	}

	var written atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())
	for rel, src := range local {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(d.Dir, filepath.FromSlash(rel))
			same, err := sameContent(src, dst)
			if err != nil || same {
				return err
			}
			if err := writeObject(src, dst); err != nil {
				return fmt.Errorf("write %s: %w", rel, err)
			}
			written.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, liberrors.Wrap(liberrors.ErrCodeSyncFailure, err, "sync to %s", d.Dir)
	}

	removed := 0
	for rel, dst := range remote {
		if _, ok := local[rel]; ok {
			continue
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return removed > 0, liberrors.Wrap(liberrors.ErrCodeSyncFailure, err, "remove %s", rel)
		}
		removeEmptyParents(d.Dir, filepath.Dir(dst))
		removed++
	}

	d.logger().Info("synced", "dir", d.Dir, "written", written.Load(), "removed", removed)
	return removed > 0, nil
}

func (d *DirSyncer) concurrency() int {
	if d.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return d.Concurrency
}

func (d *DirSyncer) logger() *log.Logger {
	if d.Logger == nil {
		return log.New(io.Discard)
	}
	return d.Logger
}

// collect maps the slash-separated relative path of every regular file
// under root to its location, following symlinks. Hidden entries at the
// root are bookkeeping and never synced.
func collect(root string) (map[string]string, error) {
	out := make(map[string]string)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return out, nil
	}
	return out, walk(root, "", out, make(map[string]bool))
}

func walk(dir, prefix string, out map[string]string, visiting map[string]bool) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if visiting[resolved] {
		return nil
	}
	visiting[resolved] = true
	defer delete(visiting, resolved)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if prefix == "" && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		rel := path.Join(prefix, e.Name())
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			// Dangling link.
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			if err := walk(p, rel, out, visiting); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			out[rel] = p
		}
	}
	return nil
}

func sameContent(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if si.Size() != di.Size() || si.Mode().Perm() != di.Mode().Perm() {
		return false, nil
	}
	a, err := digest(src)
	if err != nil {
		return false, err
	}
	b, err := digest(dst)
	if err != nil {
		return false, err
	}
	return a == b, nil
}

func digest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return string(h.Sum(nil)), nil
}

// writeObject replaces dst with the content of src through a temp file and
// rename.
func writeObject(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Chmod(info.Mode().Perm()); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func removeEmptyParents(root, dir string) {
	for dir != root && strings.HasPrefix(dir, root) {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
