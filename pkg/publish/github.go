package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/matzehuels/libcdn/pkg/integrations"
	"github.com/matzehuels/libcdn/pkg/integrations/github"
	"github.com/matzehuels/libcdn/pkg/source"
)

// GitHub publishes to a branch of a GitHub repository through the git data
// API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

var _ Backend = (*GitHub)(nil)

// NewGitHub creates a backend for owner/repo@branch.
func NewGitHub(client *github.Client, owner, repo, branch string) *GitHub {
	return &GitHub{client: client, owner: owner, repo: repo, branch: branch}
}

// GetRef implements Backend.
func (g *GitHub) GetRef(ctx context.Context) (string, error) {
	return g.client.GetRef(ctx, g.owner, g.repo, g.branch)
}

// GetCommit implements Backend.
func (g *GitHub) GetCommit(ctx context.Context, sha string) (string, error) {
	c, err := g.client.GetCommit(ctx, g.owner, g.repo, sha)
	if err != nil {
		return "", err
	}
	return c.TreeSHA(), nil
}

// GetTree implements Backend. Truncated listings are rejected because
// blobs missing from them could not be reused.
func (g *GitHub) GetTree(ctx context.Context, sha string) ([]Entry, error) {
	tree, err := g.client.GetTree(ctx, g.owner, g.repo, sha, true)
	if err != nil {
		return nil, err
	}
	if tree.Truncated {
		return nil, fmt.Errorf("tree %s of %s/%s is too large to list", sha, g.owner, g.repo)
	}
	entries := make([]Entry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.Type != "blob" {
			continue
		}
		entries = append(entries, Entry{Path: e.Path, Mode: e.Mode, SHA: e.SHA})
	}
	return entries, nil
}

// CreateBlob implements Backend.
func (g *GitHub) CreateBlob(ctx context.Context, content []byte) (string, error) {
	return g.client.CreateBlob(ctx, g.owner, g.repo, content)
}

// CreateTree implements Backend. The tree is built from scratch so that
// deleted paths disappear.
func (g *GitHub) CreateTree(ctx context.Context, entries []Entry) (string, error) {
	req := github.CreateTreeRequest{Entries: make([]github.CreateTreeEntry, 0, len(entries))}
	for _, e := range entries {
		req.Entries = append(req.Entries, github.CreateTreeEntry{Path: e.Path, Mode: e.Mode, Type: "blob", SHA: e.SHA})
	}
	return g.client.CreateTree(ctx, g.owner, g.repo, req)
}

// CreateCommit implements Backend.
func (g *GitHub) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	return g.client.CreateCommit(ctx, g.owner, g.repo, github.CreateCommitRequest{Message: message, Tree: tree, Parents: parents})
}

// UpdateRef implements Backend.
func (g *GitHub) UpdateRef(ctx context.Context, sha string) error {
	err := g.client.UpdateRef(ctx, g.owner, g.repo, g.branch, sha, false)
	if github.IsNotFastForward(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// GetFile implements Backend.
func (g *GitHub) GetFile(ctx context.Context, path string) ([]byte, error) {
	data, err := g.client.FetchFile(ctx, g.owner, g.repo, path, g.branch)
	if errors.Is(err, integrations.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, err
}

// DownloadSnapshot implements Backend.
func (g *GitHub) DownloadSnapshot(ctx context.Context, destDir string) error {
	body, err := g.client.DownloadTarball(ctx, g.owner, g.repo, g.branch)
	if err != nil {
		return err
	}
	defer body.Close()
	return source.ExtractTarball(body, destDir)
}
