package github

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matzehuels/libcdn/pkg/buildinfo"
	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/integrations"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// maxPages bounds paginated listings (100 items per page).
const maxPages = 50

// Client provides access to the GitHub REST API: ref listings, file
// contents, tarballs and the git data API used to publish content.
// It handles HTTP requests with caching, automatic retries, rate limiting
// and optional authentication.
type Client struct {
	*integrations.Client
	baseURL string
}

// Options configures a Client.
type Options struct {
	Token     string        // Personal access or installation token (optional)
	Cache     cache.Cache   // Response cache for listings (nil disables caching)
	CacheTTL  time.Duration // TTL for cached listings
	RateLimit float64       // Requests per second (0 = unlimited)
	BaseURL   string        // API endpoint (default: DefaultBaseURL)
}

// NewClient creates a GitHub API client.
// An empty token uses unauthenticated requests (60 requests/hour).
func NewClient(opts Options) *Client {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
		"User-Agent":           buildinfo.UserAgent(),
	}
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
	}

	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	c := integrations.NewClient(opts.Cache, opts.CacheTTL, headers)
	if opts.RateLimit > 0 {
		c.SetRateLimit(opts.RateLimit, int(opts.RateLimit)+1)
	}
	return &Client{Client: c, baseURL: base}
}

// BaseURL returns the API endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetRepo retrieves repository metadata.
func (c *Client) GetRepo(ctx context.Context, owner, repo string, refresh bool) (*Repo, error) {
	var data Repo
	err := c.Cached(ctx, "github", "repo:"+owner+"/"+repo, refresh, &data, func() error {
		url := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo)
		return c.Get(ctx, url, &data)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: github repo %s/%s", err, owner, repo)
		}
		return nil, err
	}
	return &data, nil
}

// ListTags lists every tag of a repository in API order.
func (c *Client) ListTags(ctx context.Context, owner, repo string, refresh bool) ([]Tag, error) {
	var tags []Tag
	err := c.Cached(ctx, "github", "tags:"+owner+"/"+repo, refresh, &tags, func() error {
		tags = nil
		return c.paginate(ctx, fmt.Sprintf("%s/repos/%s/%s/tags", c.baseURL, owner, repo), func(get func(any) error) (int, error) {
			var page []Tag
			if err := get(&page); err != nil {
				return 0, err
			}
			tags = append(tags, page...)
			return len(page), nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tags of %s/%s: %w", owner, repo, err)
	}
	return tags, nil
}

// ListBranches lists every branch of a repository in API order.
func (c *Client) ListBranches(ctx context.Context, owner, repo string, refresh bool) ([]Branch, error) {
	var branches []Branch
	err := c.Cached(ctx, "github", "branches:"+owner+"/"+repo, refresh, &branches, func() error {
		branches = nil
		return c.paginate(ctx, fmt.Sprintf("%s/repos/%s/%s/branches", c.baseURL, owner, repo), func(get func(any) error) (int, error) {
			var page []Branch
			if err := get(&page); err != nil {
				return 0, err
			}
			branches = append(branches, page...)
			return len(page), nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list branches of %s/%s: %w", owner, repo, err)
	}
	return branches, nil
}

// paginate walks a listing endpoint 100 items at a time until a short page.
func (c *Client) paginate(ctx context.Context, url string, each func(get func(any) error) (int, error)) error {
	for page := 1; page <= maxPages; page++ {
		pageURL := fmt.Sprintf("%s?per_page=100&page=%d", url, page)
		n, err := each(func(v any) error { return c.Get(ctx, pageURL, v) })
		if err != nil {
			return err
		}
		if n < 100 {
			return nil
		}
	}
	return nil
}
