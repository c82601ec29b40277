package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matzehuels/libcdn/pkg/integrations"
)

// FetchFile retrieves the content of a file at a ref (branch, tag or SHA).
// The content is decoded from base64.
func (c *Client) FetchFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, integrations.PathEscape(path))
	if ref != "" {
		url += "?ref=" + integrations.URLEncode(ref)
	}

	var file contentResponse
	if err := c.Get(ctx, url, &file); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s@%s in %s/%s", err, path, ref, owner, repo)
		}
		return nil, err
	}
	if file.Type != "" && file.Type != "file" {
		return nil, fmt.Errorf("%s in %s/%s is a %s, not a file", path, owner, repo, file.Type)
	}
	// Files over 1 MB come without inline content.
	if file.Encoding == "none" {
		return c.GetBytes(ctx, url, map[string]string{"Accept": "application/vnd.github.raw+json"})
	}
	if file.Encoding != "" && file.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}

	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return content, nil
}

// DownloadTarball opens the gzip-compressed tarball of a repository at a
// ref. The caller must close the returned reader.
func (c *Client) DownloadTarball(ctx context.Context, owner, repo, ref string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/tarball/%s", c.baseURL, owner, repo, integrations.PathEscape(ref))
	body, err := c.Stream(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download tarball %s/%s@%s: %w", owner, repo, ref, err)
	}
	return body, nil
}

// TarballURL returns the API URL of a repository tarball at a ref.
func (c *Client) TarballURL(owner, repo, ref string) string {
	return fmt.Sprintf("%s/repos/%s/%s/tarball/%s", c.baseURL, owner, repo, integrations.PathEscape(ref))
}

// ViewURL returns the human-facing URL of a repository at a ref.
func ViewURL(owner, repo, ref string) string {
	return fmt.Sprintf("https://github.com/%s/%s/tree/%s", owner, repo, integrations.PathEscape(ref))
}
