package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/integrations"
	"github.com/matzehuels/libcdn/pkg/integrations/gitlab"
)

// GitLab reads library content from a GitLab project.
type GitLab struct {
	client  *gitlab.Client
	project string
	refresh bool
}

// NewGitLab creates a provider for a project path using an existing client.
func NewGitLab(client *gitlab.Client, project string, refresh bool) *GitLab {
	return &GitLab{client: client, project: project, refresh: refresh}
}

func newGitLabProvider(location string, opts Options) (Provider, error) {
	if err := gitlab.ValidateProject(location); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeInvalidConfig, err, "gitlab source %q", location)
	}
	client := gitlab.NewClient(gitlab.Options{
		Token:     opts.GitLabToken,
		Cache:     opts.Cache,
		CacheTTL:  opts.CacheTTL,
		RateLimit: opts.RateLimit,
		BaseURL:   opts.BaseURL,
	})
	return NewGitLab(client, strings.TrimSuffix(location, ".git"), opts.Refresh), nil
}

// ListRefs lists tags and branches. The default branch comes from the
// project metadata. Tags and branches are always fetched fresh.
func (g *GitLab) ListRefs(ctx context.Context) (cdn.RefList, error) {
	project, err := g.client.GetProject(ctx, g.project, g.refresh)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "get project")
	}
	tags, err := g.client.ListTags(ctx, g.project, true)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "list tags")
	}
	branches, err := g.client.ListBranches(ctx, g.project, true)
	if err != nil {
		return cdn.RefList{}, g.unavailable(err, "list branches")
	}

	refs := cdn.RefList{DefaultBranch: project.DefaultBranch}
	for _, t := range tags {
		refs.Tags = append(refs.Tags, g.ref(t))
	}
	for _, b := range branches {
		refs.Branches = append(refs.Branches, g.ref(b))
	}
	return refs, nil
}

func (g *GitLab) ref(r gitlab.Ref) cdn.Ref {
	return cdn.Ref{Name: r.Name, CommitSHA: r.CommitSHA(), TarballURL: g.client.TarballURL(g.project, r.Name)}
}

// FetchDeclaration fetches and parses the resource declaration at ref.
func (g *GitLab) FetchDeclaration(ctx context.Context, ref string) (*cdn.Declaration, error) {
	data, err := g.client.FetchFile(ctx, g.project, cdn.DeclarationFile, ref)
	if err != nil {
		return nil, g.unavailable(err, "fetch %s@%s", cdn.DeclarationFile, ref)
	}
	return ParseDeclaration(data)
}

// DownloadSnapshot downloads the archive of ref and extracts it into destDir.
func (g *GitLab) DownloadSnapshot(ctx context.Context, ref, destDir string) error {
	body, err := g.client.DownloadTarball(ctx, g.project, ref)
	if err != nil {
		return g.unavailable(err, "download %s", ref)
	}
	defer body.Close()
	if err := ExtractTarball(body, destDir); err != nil {
		return fmt.Errorf("extract %s@%s: %w", g.project, ref, err)
	}
	return nil
}

// ViewURL returns the GitLab page of the project at ref.
func (g *GitLab) ViewURL(ref string) string {
	return g.client.ViewURL(g.project, ref)
}

func (g *GitLab) unavailable(err error, format string, args ...any) error {
	code := liberrors.ErrCodeSourceUnavailable
	if errors.Is(err, integrations.ErrNotFound) {
		code = liberrors.ErrCodeNotFound
	}
	return liberrors.Wrap(code, err, "%s: %s", g.project, fmt.Sprintf(format, args...))
}
