package publish

import (
	"context"
	"errors"
)

// Git file modes of published entries.
const (
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
)

var (
	// ErrConflict is returned when the publish branch moved between
	// Prepare and Commit, or rejected a non fast-forward update.
	ErrConflict = errors.New("publish branch moved")

	// ErrNotFound is returned by Backend.GetFile for missing paths.
	ErrNotFound = errors.New("not found")
)

// Entry is a blob in a published tree.
type Entry struct {
	Path string // Slash-separated path from the tree root
	Mode string // ModeFile, ModeExecutable or ModeSymlink
	SHA  string // Blob id
}

// Backend is the git data API of one publish branch.
type Backend interface {
	// GetRef returns the commit the branch points at.
	GetRef(ctx context.Context) (string, error)
	// GetCommit returns the root tree of a commit.
	GetCommit(ctx context.Context, sha string) (string, error)
	// GetTree returns every blob of a tree, recursively.
	GetTree(ctx context.Context, sha string) ([]Entry, error)
	// CreateBlob stores content and returns its blob id.
	CreateBlob(ctx context.Context, content []byte) (string, error)
	// CreateTree stores a complete tree and returns its id.
	CreateTree(ctx context.Context, entries []Entry) (string, error)
	// CreateCommit stores a commit and returns its id.
	CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error)
	// UpdateRef moves the branch to sha. It must reject non fast-forward
	// updates with ErrConflict.
	UpdateRef(ctx context.Context, sha string) error
	// GetFile returns a file of the branch head.
	GetFile(ctx context.Context, path string) ([]byte, error)
	// DownloadSnapshot extracts the tree of the branch head into destDir.
	DownloadSnapshot(ctx context.Context, destDir string) error
}
