package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/matzehuels/libcdn/pkg/httputil"
	"github.com/matzehuels/libcdn/pkg/integrations"
)

// Git file modes used in tree entries.
const (
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeDir        = "040000"
)

// CreateTreeRequest contains the fields for creating a git tree.
// Publishing builds full trees, so BaseTree is normally empty.
type CreateTreeRequest struct {
	BaseTree string            `json:"base_tree,omitempty"`
	Entries  []CreateTreeEntry `json:"tree"`
}

// CreateTreeEntry describes a single blob entry of a tree creation request.
type CreateTreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CreateCommitRequest contains the fields for creating a git commit.
type CreateCommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

// GetRef returns the commit SHA a branch points at.
func (c *Client) GetRef(ctx context.Context, owner, repo, branch string) (string, error) {
	var ref refResponse
	url := fmt.Sprintf("%s/repos/%s/%s/git/ref/heads/%s", c.baseURL, owner, repo, integrations.PathEscape(branch))
	err := httputil.RetryWithBackoff(ctx, func() error {
		return c.Get(ctx, url, &ref)
	})
	if err != nil {
		return "", fmt.Errorf("get ref heads/%s in %s/%s: %w", branch, owner, repo, err)
	}
	return ref.Object.SHA, nil
}

// GetCommit retrieves a git commit object.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	var commit Commit
	url := fmt.Sprintf("%s/repos/%s/%s/git/commits/%s", c.baseURL, owner, repo, sha)
	err := httputil.RetryWithBackoff(ctx, func() error {
		return c.Get(ctx, url, &commit)
	})
	if err != nil {
		return nil, fmt.Errorf("get commit %s in %s/%s: %w", sha, owner, repo, err)
	}
	return &commit, nil
}

// GetTree retrieves a tree object. With recursive set, every nested entry
// is returned with its full path; GitHub truncates very large trees, which
// is reported through Tree.Truncated.
func (c *Client) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*Tree, error) {
	var tree Tree
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", c.baseURL, owner, repo, sha)
	if recursive {
		url += "?recursive=1"
	}
	err := httputil.RetryWithBackoff(ctx, func() error {
		return c.Get(ctx, url, &tree)
	})
	if err != nil {
		return nil, fmt.Errorf("get tree %s in %s/%s: %w", sha, owner, repo, err)
	}
	return &tree, nil
}

// CreateBlob uploads content as a base64 blob and returns its SHA.
func (c *Client) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	request := struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}{Content: base64.StdEncoding.EncodeToString(content), Encoding: "base64"}

	var blob objectResponse
	url := fmt.Sprintf("%s/repos/%s/%s/git/blobs", c.baseURL, owner, repo)
	err := httputil.RetryWithBackoff(ctx, func() error {
		return c.Post(ctx, url, request, &blob)
	})
	if err != nil {
		return "", fmt.Errorf("create blob in %s/%s: %w", owner, repo, err)
	}
	return blob.SHA, nil
}

// CreateTree creates a git tree object and returns its SHA.
func (c *Client) CreateTree(ctx context.Context, owner, repo string, request CreateTreeRequest) (string, error) {
	var tree objectResponse
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees", c.baseURL, owner, repo)
	err := httputil.RetryWithBackoff(ctx, func() error {
		return c.Post(ctx, url, request, &tree)
	})
	if err != nil {
		return "", fmt.Errorf("create tree in %s/%s: %w", owner, repo, err)
	}
	return tree.SHA, nil
}

// CreateCommit creates a git commit object and returns its SHA.
func (c *Client) CreateCommit(ctx context.Context, owner, repo string, request CreateCommitRequest) (string, error) {
	var commit objectResponse
	url := fmt.Sprintf("%s/repos/%s/%s/git/commits", c.baseURL, owner, repo)
	if err := c.Post(ctx, url, request, &commit); err != nil {
		return "", fmt.Errorf("create commit in %s/%s: %w", owner, repo, err)
	}
	return commit.SHA, nil
}

// UpdateRef moves a branch to a new commit. Without force, GitHub rejects
// updates that are not fast-forwards; see [IsNotFastForward].
func (c *Client) UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error {
	request := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: sha, Force: force}

	url := fmt.Sprintf("%s/repos/%s/%s/git/refs/heads/%s", c.baseURL, owner, repo, integrations.PathEscape(branch))
	if err := c.Patch(ctx, url, request, nil); err != nil {
		return fmt.Errorf("update ref heads/%s in %s/%s: %w", branch, owner, repo, err)
	}
	return nil
}

// IsNotFastForward reports whether err is GitHub's rejection of a
// non-forced ref update whose target does not descend from the current head.
func IsNotFastForward(err error) bool {
	return integrations.IsStatus(err, 422) || errors.Is(err, integrations.ErrConflict)
}
