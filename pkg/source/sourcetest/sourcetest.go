// Package sourcetest provides an in-memory [source.Provider] for tests.
package sourcetest

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/integrations"
	"github.com/matzehuels/libcdn/pkg/source"
)

var _ source.Provider = (*Provider)(nil)

// Provider serves refs, declarations and snapshot files from memory.
// It is safe for concurrent use; fields may be changed between runs.
type Provider struct {
	mu sync.Mutex

	Refs         cdn.RefList
	Declarations map[string]*cdn.Declaration  // ref -> declaration; missing means not found
	Files        map[string]map[string]string // ref -> path -> content
	Links        map[string]map[string]string // ref -> path -> symlink target
	ListErr      error                        // returned by ListRefs when set

	declarationCalls map[string]int
	downloads        map[string]int
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		Declarations: make(map[string]*cdn.Declaration),
		Files:        make(map[string]map[string]string),
		Links:        make(map[string]map[string]string),
	}
}

// AddTag registers a tag with a declaration and snapshot files. A nil
// declaration leaves the tag without one.
func (p *Provider) AddTag(name, sha string, decl *cdn.Declaration, files map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Refs.Tags = append(p.Refs.Tags, cdn.Ref{Name: name, CommitSHA: sha, TarballURL: "https://example.com/" + name + ".tgz"})
	p.set(name, decl, files)
}

// SetBranch registers or replaces a branch and makes it the default branch.
func (p *Provider) SetBranch(name, sha string, decl *cdn.Declaration, files map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Refs.DefaultBranch = name
	for i, b := range p.Refs.Branches {
		if b.Name == name {
			p.Refs.Branches[i].CommitSHA = sha
			p.set(name, decl, files)
			return
		}
	}
	p.Refs.Branches = append(p.Refs.Branches, cdn.Ref{Name: name, CommitSHA: sha})
	p.set(name, decl, files)
}

// MoveTag points an existing tag at a new commit with new content.
func (p *Provider) MoveTag(name, sha string, decl *cdn.Declaration, files map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.Refs.Tags {
		if t.Name == name {
			p.Refs.Tags[i].CommitSHA = sha
		}
	}
	p.set(name, decl, files)
}

func (p *Provider) set(ref string, decl *cdn.Declaration, files map[string]string) {
	if decl != nil {
		p.Declarations[ref] = decl
	} else {
		delete(p.Declarations, ref)
	}
	p.Files[ref] = maps.Clone(files)
}

// ListRefs implements source.Provider.
func (p *Provider) ListRefs(ctx context.Context) (cdn.RefList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListErr != nil {
		return cdn.RefList{}, p.ListErr
	}
	refs := cdn.RefList{
		Tags:          append([]cdn.Ref(nil), p.Refs.Tags...),
		Branches:      append([]cdn.Ref(nil), p.Refs.Branches...),
		DefaultBranch: p.Refs.DefaultBranch,
	}
	return refs, nil
}

// FetchDeclaration implements source.Provider.
func (p *Provider) FetchDeclaration(ctx context.Context, ref string) (*cdn.Declaration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declarationCalls == nil {
		p.declarationCalls = make(map[string]int)
	}
	p.declarationCalls[ref]++
	decl, ok := p.Declarations[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", integrations.ErrNotFound, cdn.DeclarationFile, ref)
	}
	return decl, nil
}

// DownloadSnapshot implements source.Provider.
func (p *Provider) DownloadSnapshot(ctx context.Context, ref, destDir string) error {
	p.mu.Lock()
	files, ok := p.Files[ref]
	links := p.Links[ref]
	if p.downloads == nil {
		p.downloads = make(map[string]int)
	}
	p.downloads[ref]++
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: snapshot %s", integrations.ErrNotFound, ref)
	}
	for path, content := range files {
		target := filepath.Join(destDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return err
		}
	}
	for path, link := range links {
		target := filepath.Join(destDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(link, target); err != nil {
			return err
		}
	}
	return nil
}

// ViewURL implements source.Provider.
func (p *Provider) ViewURL(ref string) string {
	return "https://example.com/tree/" + ref
}

// DeclarationCalls returns how often the declaration at ref was fetched.
func (p *Provider) DeclarationCalls(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.declarationCalls[ref]
}

// Downloads returns how often the snapshot at ref was downloaded.
func (p *Provider) Downloads(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloads[ref]
}

// Opener returns a function that resolves every locator to one of the
// given providers, keyed by locator.
func Opener(providers map[string]*Provider) source.Opener {
	return func(locator string) (source.Provider, error) {
		p, ok := providers[locator]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", locator)
		}
		return p, nil
	}
}
