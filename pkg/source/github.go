package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/integrations"
	"github.com/matzehuels/libcdn/pkg/integrations/github"
)

// GitHub reads library content from a GitHub repository.
type GitHub struct {
	client  *github.Client
	owner   string
	repo    string
	refresh bool
}

// NewGitHub creates a provider for owner/repo using an existing client.
func NewGitHub(client *github.Client, owner, repo string, refresh bool) *GitHub {
	return &GitHub{client: client, owner: owner, repo: repo, refresh: refresh}
}

func newGitHubProvider(location string, opts Options) (Provider, error) {
	owner, repo, err := github.ParseRepoRef(location)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeInvalidConfig, err, "github source %q", location)
	}
	client := github.NewClient(github.Options{
		Token:     opts.Token,
		Cache:     opts.Cache,
		CacheTTL:  opts.CacheTTL,
		RateLimit: opts.RateLimit,
		BaseURL:   opts.BaseURL,
	})
	return NewGitHub(client, owner, repo, opts.Refresh), nil
}

// ListRefs lists tags and branches. The default branch comes from the
// repository metadata. Tags and branches move with every push, so they are
// always fetched fresh; only repository metadata may come from the cache.
func (g *GitHub) ListRefs(ctx context.Context) (cdn.RefList, error) {
	repo, err := g.client.GetRepo(ctx, g.owner, g.repo, g.refresh)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "get repository")
	}
	tags, err := g.client.ListTags(ctx, g.owner, g.repo, true)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "list tags")
	}
	branches, err := g.client.ListBranches(ctx, g.owner, g.repo, true)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "list branches")
	}

	refs := cdn.RefList{DefaultBranch: repo.DefaultBranch}
	for _, t := range tags {
		url := t.TarballURL
		if url == "" {
			url = g.client.TarballURL(g.owner, g.repo, t.Name)
		}
		refs.Tags = append(refs.Tags, cdn.Ref{Name: t.Name, CommitSHA: t.CommitSHA(), TarballURL: url})
	}
	for _, b := range branches {
		refs.Branches = append(refs.Branches, cdn.Ref{
			Name:       b.Name,
			CommitSHA:  b.CommitSHA(),
			TarballURL: g.client.TarballURL(g.owner, g.repo, b.Name),
		})
	}
	return refs, nil
}

// FetchDeclaration fetches and parses the resource declaration at ref.
func (g *GitHub) FetchDeclaration(ctx context.Context, ref string) (*cdn.Declaration, error) {
	data, err := g.client.FetchFile(ctx, g.owner, g.repo, cdn.DeclarationFile, ref)
	if err != nil {
		return nil, g.unavailable(err, "fetch %s@%s", cdn.DeclarationFile, ref)
	}
	return ParseDeclaration(data)
}

// DownloadSnapshot downloads the tarball of ref and extracts it into destDir.
func (g *GitHub) DownloadSnapshot(ctx context.Context, ref, destDir string) error {
	body, err := g.client.DownloadTarball(ctx, g.owner, g.repo, ref)
	if err != nil {
		return g.unavailable(err, "download %s", ref)
	}
	defer body.Close()
	if err := ExtractTarball(body, destDir); err != nil {
		return fmt.Errorf("extract %s/%s@%s: %w", g.owner, g.repo, ref, err)
	}
	return nil
}

// ViewURL returns the GitHub page of the repository at ref.
func (g *GitHub) ViewURL(ref string) string {
	return github.ViewURL(g.owner, g.repo, ref)
}

func (g *GitHub) unavailable(err error, format string, args ...any) error {
	code := liberrors.ErrCodeSourceUnavailable
	if errors.Is(err, integrations.ErrNotFound) {
		code = liberrors.ErrCodeNotFound
	}
	return liberrors.Wrap(code, err, "%s/%s: %s", g.owner, g.repo, fmt.Sprintf(format, args...))
}
