package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/publish"
	"github.com/matzehuels/libcdn/pkg/staging"
)

// contentTree is the local copy of the published content inside a work
// directory:
//
//	<workdir>/content/         the canonical content tree
//	<workdir>/content.head     publish branch head the tree is based on
//	<workdir>/content.pending  paths that differ from that head
//	<workdir>/scratch/         source snapshots during staging
//
// Pending paths are metadata a run changed without committing; the next
// commit carries them. The records live outside the tree so they never show
// up in a diff.
type contentTree struct {
	work    string
	dir     string
	scratch string
	head    string
	pending string
}

func newContentTree(workDir string) *contentTree {
	return &contentTree{
		work:    workDir,
		dir:     filepath.Join(workDir, "content"),
		scratch: filepath.Join(workDir, "scratch"),
		head:    filepath.Join(workDir, "content.head"),
		pending: filepath.Join(workDir, "content.pending"),
	}
}

// prepare makes the tree match the published head. A clean tree recorded
// at head is reused; anything else is replaced by a fresh download. It
// reports whether an earlier run left the tree dirty.
func (t *contentTree) prepare(ctx context.Context, backend publish.Backend, head string, logger *log.Logger) (bool, error) {
	dirty := staging.IsDirty(t.dir)
	if !dirty && t.recordedHead() == head {
		if info, err := os.Stat(t.dir); err == nil && info.IsDir() {
			logger.Debug("reusing content tree", "head", head)
			return false, nil
		}
	}

	if err := os.MkdirAll(t.scratch, 0o755); err != nil {
		return dirty, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "create work dir")
	}
	tmp, err := os.MkdirTemp(t.work, "content-*")
	if err != nil {
		return dirty, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "create work dir")
	}
	logger.Info("downloading published content", "head", head)
	if err := backend.DownloadSnapshot(ctx, tmp); err != nil {
		os.RemoveAll(tmp)
		return dirty, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "download published content")
	}

	if err := t.forgetHead(); err != nil {
		os.RemoveAll(tmp)
		return dirty, err
	}
	if err := os.RemoveAll(t.dir); err != nil {
		os.RemoveAll(tmp)
		return dirty, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "clear content tree")
	}
	if err := os.Rename(tmp, t.dir); err != nil {
		return dirty, liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "replace content tree")
	}
	return dirty, t.recordHead(head, nil)
}

func (t *contentTree) recordedHead() string {
	data, err := os.ReadFile(t.head)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// pendingPaths returns the paths recorded as not yet published.
func (t *contentTree) pendingPaths() []string {
	data, err := os.ReadFile(t.pending)
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}

// recordHead records the head the tree is based on and the paths that
// differ from it. The pending list is written first so a head is never
// recorded without it.
func (t *contentTree) recordHead(sha string, pending []string) error {
	if len(pending) == 0 {
		if err := os.Remove(t.pending); err != nil && !os.IsNotExist(err) {
			return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "clear pending paths")
		}
	} else if err := os.WriteFile(t.pending, []byte(strings.Join(pending, "\n")+"\n"), 0o644); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "record pending paths")
	}
	if err := os.WriteFile(t.head, []byte(sha+"\n"), 0o644); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "record content head")
	}
	return nil
}

// forgetHead drops the head record; the pending list only means something
// together with a head, so the next prepare downloads the tree fresh.
func (t *contentTree) forgetHead() error {
	if err := os.Remove(t.head); err != nil && !os.IsNotExist(err) {
		return liberrors.Wrap(liberrors.ErrCodeStagingFailure, err, "clear content head")
	}
	return nil
}
