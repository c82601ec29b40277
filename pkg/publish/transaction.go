package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/changes"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// DefaultConcurrency bounds concurrent blob uploads.
const DefaultConcurrency = 8

// Transaction publishes change sets to a Backend.
type Transaction struct {
	Backend     Backend
	Message     string // Commit message (default: "Publish content")
	Concurrency int    // Concurrent blob uploads (default: 8)
	Logger      *log.Logger
}

// Pending is a prepared but uncommitted publish.
type Pending struct {
	Parent   string  // Branch head the tree was built against
	Tree     string  // Id of the assembled tree
	Entries  []Entry // Every blob of the tree, sorted by path
	Uploaded int     // Blobs created during Prepare
	Reused   int     // Blobs reused from the published tree
}

// Prepare builds the tree for a change set. Unchanged paths reuse the blob
// ids of the published tree; added and modified paths are uploaded from
// contentDir with their mode preserved. The manifest is always uploaded from
// the given bytes. Deleted paths are simply left out.
func (t *Transaction) Prepare(ctx context.Context, set *changes.Set, contentDir string, manifest []byte) (*Pending, error) {
	head, err := t.Backend.GetRef(ctx)
	if err != nil {
		return nil, fmt.Errorf("read publish branch: %w", err)
	}
	rootTree, err := t.Backend.GetCommit(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("read head commit: %w", err)
	}
	published, err := t.Backend.GetTree(ctx, rootTree)
	if err != nil {
		return nil, fmt.Errorf("read published tree: %w", err)
	}
	index := make(map[string]Entry, len(published))
	for _, e := range published {
		index[e.Path] = e
	}

	p := &Pending{Parent: head}
	upload := set.Upload()
	for _, path := range set.Unchanged {
		e, ok := index[path]
		if !ok {
			t.logger().Warn("unchanged path missing from published tree, uploading", "path", path)
			upload = append(upload, path)
			continue
		}
		p.Entries = append(p.Entries, e)
		p.Reused++
	}

	uploaded, err := t.upload(ctx, contentDir, upload)
	if err != nil {
		return nil, err
	}
	p.Entries = append(p.Entries, uploaded...)
	p.Uploaded = len(uploaded)

	if manifest != nil {
		sha, err := t.Backend.CreateBlob(ctx, manifest)
		if err != nil {
			return nil, fmt.Errorf("upload manifest: %w", err)
		}
		p.Entries = append(p.Entries, Entry{Path: cdn.ManifestPath, Mode: ModeFile, SHA: sha})
		p.Uploaded++
	}

	sort.Slice(p.Entries, func(i, j int) bool { return p.Entries[i].Path < p.Entries[j].Path })
	p.Tree, err = t.Backend.CreateTree(ctx, p.Entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	return p, nil
}

func (t *Transaction) upload(ctx context.Context, contentDir string, paths []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(paths))
	var mu sync.Mutex

	limit := t.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, path := range paths {
		g.Go(func() error {
			content, mode, err := readEntry(filepath.Join(contentDir, filepath.FromSlash(path)))
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			sha, err := t.Backend.CreateBlob(ctx, content)
			if err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			mu.Lock()
			entries = append(entries, Entry{Path: path, Mode: mode, SHA: sha})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// readEntry returns the blob content and git mode of a file or symlink.
func readEntry(path string) ([]byte, string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, "", err
		}
		return []byte(filepath.ToSlash(target)), ModeSymlink, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if info.Mode().Perm()&0o111 != 0 {
		return content, ModeExecutable, nil
	}
	return content, ModeFile, nil
}

// Commit creates the commit of a prepared tree and advances the branch to
// it. A branch that moved since Prepare fails with a TRANSACTION_CONFLICT
// wrapping ErrConflict.
func (t *Transaction) Commit(ctx context.Context, p *Pending) (string, error) {
	msg := t.Message
	if msg == "" {
		msg = "Publish content"
	}
	sha, err := t.Backend.CreateCommit(ctx, msg, p.Tree, []string{p.Parent})
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	current, err := t.Backend.GetRef(ctx)
	if err != nil {
		return "", fmt.Errorf("re-read publish branch: %w", err)
	}
	if current != p.Parent {
		return "", conflict(fmt.Errorf("%w: head is %s, prepared against %s", ErrConflict, current, p.Parent))
	}

	if err := t.Backend.UpdateRef(ctx, sha); err != nil {
		if errors.Is(err, ErrConflict) {
			return "", conflict(err)
		}
		return "", fmt.Errorf("update publish branch: %w", err)
	}
	t.logger().Info("published", "commit", sha, "uploaded", p.Uploaded, "reused", p.Reused)
	return sha, nil
}

func conflict(err error) error {
	return liberrors.Wrap(liberrors.ErrCodeTransactionConflict, err, "publish branch changed during the run")
}

func (t *Transaction) logger() *log.Logger {
	if t.Logger == nil {
		return log.New(io.Discard)
	}
	return t.Logger
}

// CommitMessage describes a publish for the commit log.
func CommitMessage(updated []cdn.Target, set *changes.Set, at time.Time) string {
	added, modified, deleted := set.Counts()
	msg := fmt.Sprintf("Publish %d version(s) at %s\n\n%d added, %d modified, %d deleted\n",
		len(updated), at.UTC().Format(time.RFC3339), added, modified, deleted)
	for _, u := range updated {
		msg += fmt.Sprintf("\n%s %s (%s)", u.Library.ID, u.Version.Name, short(u.Version.CommitSHA))
	}
	return msg
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
