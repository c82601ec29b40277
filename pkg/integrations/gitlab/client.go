package gitlab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/libcdn/pkg/buildinfo"
	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/integrations"
)

const (
	// DefaultBaseURL is the public GitLab API endpoint.
	DefaultBaseURL = "https://gitlab.com/api/v4"

	// DefaultWebURL is the public GitLab web host.
	DefaultWebURL = "https://gitlab.com"
)

// maxPages bounds paginated listings (100 items per page).
const maxPages = 50

// Client provides access to the GitLab API with caching, retries and
// optional authentication.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
	webURL  string
}

// Options configures a Client.
type Options struct {
	Token     string        // Personal access token (optional)
	Cache     cache.Cache   // Response cache for listings (nil disables caching)
	CacheTTL  time.Duration // TTL for cached listings
	RateLimit float64       // Requests per second (0 = unlimited)
	BaseURL   string        // API endpoint (default: DefaultBaseURL)
	WebURL    string        // Web host for view links (default: DefaultWebURL)
}

// NewClient creates a GitLab API client.
func NewClient(opts Options) *Client {
	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": buildinfo.UserAgent(),
	}
	if opts.Token != "" {
		headers["PRIVATE-TOKEN"] = opts.Token
	}

	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	web := strings.TrimSuffix(opts.WebURL, "/")
	if web == "" {
		web = DefaultWebURL
	}

	c := integrations.NewClient(opts.Cache, opts.CacheTTL, headers)
	if opts.RateLimit > 0 {
		c.SetRateLimit(opts.RateLimit, int(opts.RateLimit)+1)
	}
	return &Client{Client: c, baseURL: base, webURL: web}
}

// BaseURL returns the API endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Project is GitLab project metadata.
type Project struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
}

// Ref is one entry of the tag or branch listing.
type Ref struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// CommitSHA returns the commit the ref points at.
func (r Ref) CommitSHA() string { return r.Commit.ID }

// projectURL returns the API URL of a project addressed by its full path.
func (c *Client) projectURL(project string) string {
	return c.baseURL + "/projects/" + url.PathEscape(project)
}

// GetProject retrieves project metadata.
func (c *Client) GetProject(ctx context.Context, project string, refresh bool) (*Project, error) {
	var data Project
	err := c.Cached(ctx, "gitlab", "project:"+project, refresh, &data, func() error {
		return c.Get(ctx, c.projectURL(project), &data)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: gitlab project %s", err, project)
		}
		return nil, err
	}
	return &data, nil
}

// ListTags lists every tag of a project.
func (c *Client) ListTags(ctx context.Context, project string, refresh bool) ([]Ref, error) {
	return c.listRefs(ctx, project, "tags", refresh)
}

// ListBranches lists every branch of a project.
func (c *Client) ListBranches(ctx context.Context, project string, refresh bool) ([]Ref, error) {
	return c.listRefs(ctx, project, "branches", refresh)
}

func (c *Client) listRefs(ctx context.Context, project, kind string, refresh bool) ([]Ref, error) {
	var refs []Ref
	err := c.Cached(ctx, "gitlab", kind+":"+project, refresh, &refs, func() error {
		refs = nil
		base := c.projectURL(project) + "/repository/" + kind
		for page := 1; page <= maxPages; page++ {
			var batch []Ref
			if err := c.Get(ctx, fmt.Sprintf("%s?per_page=100&page=%d", base, page), &batch); err != nil {
				return err
			}
			refs = append(refs, batch...)
			if len(batch) < 100 {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", kind, project, err)
	}
	return refs, nil
}

// FetchFile retrieves the raw content of a file at a ref.
func (c *Client) FetchFile(ctx context.Context, project, path, ref string) ([]byte, error) {
	u := fmt.Sprintf("%s/repository/files/%s/raw?ref=%s", c.projectURL(project), url.PathEscape(path), integrations.URLEncode(ref))
	data, err := c.GetBytes(ctx, u, nil)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s@%s in %s", err, path, ref, project)
		}
		return nil, err
	}
	return data, nil
}

// TarballURL returns the API URL of a project archive at a ref.
func (c *Client) TarballURL(project, ref string) string {
	return c.projectURL(project) + "/repository/archive.tar.gz?sha=" + integrations.URLEncode(ref)
}

// DownloadTarball opens the gzip-compressed archive of a project at a ref.
// The caller must close the returned reader.
func (c *Client) DownloadTarball(ctx context.Context, project, ref string) (io.ReadCloser, error) {
	body, err := c.Stream(ctx, c.TarballURL(project, ref), nil)
	if err != nil {
		return nil, fmt.Errorf("download archive %s@%s: %w", project, ref, err)
	}
	return body, nil
}

// ViewURL returns the human-facing URL of a project at a ref.
func (c *Client) ViewURL(project, ref string) string {
	return fmt.Sprintf("%s/%s/-/tree/%s", c.webURL, project, integrations.PathEscape(ref))
}

// ValidateProject checks a "group[/subgroup...]/project" path.
func ValidateProject(project string) error {
	parts := strings.Split(strings.TrimSuffix(project, ".git"), "/")
	if len(parts) < 2 {
		return errors.New("invalid project path: use group/project")
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, " \t\\?#%") {
			return fmt.Errorf("invalid project path segment %q", p)
		}
	}
	return nil
}
