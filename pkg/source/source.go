package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// DefaultCacheTTL is how long ref listings are served from cache.
const DefaultCacheTTL = 5 * time.Minute

// Provider is a source repository that versions are published from.
type Provider interface {
	// ListRefs lists every tag and branch of the repository.
	ListRefs(ctx context.Context) (cdn.RefList, error)
	// FetchDeclaration fetches and parses the resource declaration at ref.
	FetchDeclaration(ctx context.Context, ref string) (*cdn.Declaration, error)
	// DownloadSnapshot extracts the repository content at ref into destDir.
	DownloadSnapshot(ctx context.Context, ref, destDir string) error
	// ViewURL returns the human-facing URL of the repository at ref.
	ViewURL(ref string) string
}

// Options configures providers created by [Open].
type Options struct {
	Token       string        // GitHub API token (optional)
	GitLabToken string        // GitLab API token (optional)
	Cache       cache.Cache   // Repository metadata cache (nil disables caching)
	CacheTTL    time.Duration // Metadata cache TTL (default: 5m)
	RateLimit   float64       // Requests per second (0 = unlimited)
	BaseURL     string        // API endpoint override, used by tests
	Refresh     bool          // Bypass cached repository metadata
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return opts
}

// Opener creates the provider for a source locator.
type Opener func(locator string) (Provider, error)

// Opener returns an [Opener] that opens locators with these options.
func (o Options) Opener() Opener {
	return func(locator string) (Provider, error) {
		return Open(locator, o)
	}
}

// Kind describes a source type addressable by a locator prefix.
type Kind struct {
	Name string
	New  func(location string, opts Options) (Provider, error)
}

var kinds = map[string]Kind{
	"github": {Name: "github", New: newGitHubProvider},
	"gitlab": {Name: "gitlab", New: newGitLabProvider},
}

// Kinds returns the supported locator prefixes in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the provider for a locator of the form "<kind>:<location>",
// e.g. "github:owner/repo".
func Open(locator string, opts Options) (Provider, error) {
	kind, location, ok := strings.Cut(locator, ":")
	if !ok || location == "" {
		return nil, liberrors.New(liberrors.ErrCodeInvalidConfig, "invalid source %q: use <kind>:<location>", locator)
	}
	k, ok := kinds[kind]
	if !ok {
		return nil, liberrors.New(liberrors.ErrCodeInvalidConfig,
			"unknown source type %q (available: %s)", kind, strings.Join(Kinds(), ", "))
	}
	p, err := k.New(location, opts.WithDefaults())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	return p, nil
}
