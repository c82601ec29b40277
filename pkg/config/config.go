// Package config loads the libcdn configuration file.
//
// The file is TOML:
//
//	[content]
//	owner = "byuweb"
//	repo = "web-cdn"
//	branch = "content"
//
//	[storage]
//	dir = "/srv/cdn"
//
//	[invalidation]
//	url = "https://purge.example/api"
//	token_env = "CDN_PURGE_TOKEN"
//
//	[cache]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
//	ttl = "1h"
//
//	[run]
//	concurrency = 8
//
//	[libraries.demo]
//	source = "github:byuweb/demo"
//	branch = "master"
//
// API tokens are never read from the file; they come from GITHUB_TOKEN and
// GITLAB_TOKEN.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/loader"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultPath is the configuration file read when none is given.
	DefaultPath = "libcdn.toml"

	// DefaultBranch is the publish branch of the content repository.
	DefaultBranch = "content"

	// DefaultWorkDir holds the content tree, scratch space and local state.
	DefaultWorkDir = ".tmp"

	// DefaultConcurrency bounds concurrent loads, downloads and uploads.
	DefaultConcurrency = 8

	// DefaultCacheTTL is how long ref listings stay cached.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultAddr is the listen address of the webhook server.
	DefaultAddr = ":8080"

	// TokenEnv names the environment variable holding the GitHub token.
	TokenEnv = "GITHUB_TOKEN"

	// GitLabTokenEnv names the environment variable holding the GitLab token.
	GitLabTokenEnv = "GITLAB_TOKEN"
)

// Cache and history backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendMongo = "mongo"
	BackendNone  = "none"
)

// =============================================================================
// Config
// =============================================================================

// Config is the parsed configuration file.
type Config struct {
	Content      Content            `toml:"content"`
	Storage      Storage            `toml:"storage"`
	Invalidation Invalidation       `toml:"invalidation"`
	Cache        Cache              `toml:"cache"`
	History      History            `toml:"history"`
	Run          Run                `toml:"run"`
	Server       Server             `toml:"server"`
	Libraries    map[string]Library `toml:"libraries"`

	// Tokens are taken from the environment.
	GitHubToken string `toml:"-"`
	GitLabToken string `toml:"-"`
}

// Content is the GitHub repository the content tree is published to.
type Content struct {
	Owner  string `toml:"owner"`
	Repo   string `toml:"repo"`
	Branch string `toml:"branch"`
}

// Storage is the object storage mirror. An empty Dir disables syncing.
type Storage struct {
	Dir string `toml:"dir"`
}

// Invalidation is the edge-cache purge endpoint. An empty URL disables
// invalidation.
type Invalidation struct {
	URL      string `toml:"url"`
	TokenEnv string `toml:"token_env"`
}

// Cache configures the response cache.
type Cache struct {
	Backend  string   `toml:"backend"` // file, redis or none
	Dir      string   `toml:"dir"`     // default: the user cache directory
	RedisURL string   `toml:"redis_url"`
	TTL      Duration `toml:"ttl"`
}

// History configures run history.
type History struct {
	Backend  string `toml:"backend"` // file, mongo or none
	Path     string `toml:"path"`    // default: <workdir>/runs.jsonl
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}

// Run configures pipeline execution.
type Run struct {
	Concurrency int     `toml:"concurrency"`
	RateLimit   float64 `toml:"rate_limit"` // Source API requests per second (0 = unlimited)
	WorkDir     string  `toml:"workdir"`
	KeepRemoved bool    `toml:"keep_removed"` // Do not prune unlisted versions and libraries
}

// Server configures `libcdn serve`.
type Server struct {
	Addr      string `toml:"addr"`
	SecretEnv string `toml:"secret_env"` // Environment variable holding the webhook secret
}

// Library is one configured library.
type Library struct {
	Source string `toml:"source"`
	Branch string `toml:"branch"`
}

// Duration is a time.Duration written as a string such as "90s" or "1h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// =============================================================================
// Loading
// =============================================================================

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, liberrors.New(liberrors.ErrCodeInvalidConfig, "config file %s not found", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	cfg.GitHubToken = os.Getenv(TokenEnv)
	cfg.GitLabToken = os.Getenv(GitLabTokenEnv)
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document. Unknown
// keys are rejected.
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeInvalidConfig, err, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, liberrors.New(liberrors.ErrCodeInvalidConfig, "unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Content.Branch == "" {
		c.Content.Branch = DefaultBranch
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendFile
	}
	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL.Duration = DefaultCacheTTL
	}
	if c.Run.Concurrency == 0 {
		c.Run.Concurrency = DefaultConcurrency
	}
	if c.Run.WorkDir == "" {
		c.Run.WorkDir = DefaultWorkDir
	}
	if c.History.Backend == "" {
		c.History.Backend = BackendFile
	}
	if c.History.Backend == BackendFile && c.History.Path == "" {
		c.History.Path = filepath.Join(c.Run.WorkDir, "runs.jsonl")
	}
	if c.History.Backend == BackendMongo && c.History.Database == "" {
		c.History.Database = history.DefaultDatabase
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Content.Owner == "" || c.Content.Repo == "" {
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "content.owner and content.repo are required")
	}
	if len(c.Libraries) == 0 {
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "no libraries configured")
	}
	for _, id := range c.LibraryIDs() {
		if err := liberrors.ValidateLibraryID(id); err != nil {
			return err
		}
		if c.Libraries[id].Source == "" {
			return liberrors.New(liberrors.ErrCodeInvalidConfig, "libraries.%s.source is required", id)
		}
	}
	if c.Run.Concurrency < 0 {
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "run.concurrency must not be negative")
	}
	if c.Run.RateLimit < 0 {
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "run.rate_limit must not be negative")
	}

	switch c.Cache.Backend {
	case BackendFile, BackendNone:
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			return liberrors.New(liberrors.ErrCodeInvalidConfig, "cache.redis_url is required for the redis backend")
		}
	default:
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "invalid cache.backend %q (must be one of: file, redis, none)", c.Cache.Backend)
	}

	switch c.History.Backend {
	case BackendFile, BackendNone:
	case BackendMongo:
		if c.History.MongoURI == "" {
			return liberrors.New(liberrors.ErrCodeInvalidConfig, "history.mongo_uri is required for the mongo backend")
		}
	default:
		return liberrors.New(liberrors.ErrCodeInvalidConfig, "invalid history.backend %q (must be one of: file, mongo, none)", c.History.Backend)
	}
	return nil
}

// =============================================================================
// Derived settings
// =============================================================================

// LibraryIDs returns the configured library ids in sorted order.
func (c *Config) LibraryIDs() []string {
	ids := make([]string, 0, len(c.Libraries))
	for id := range c.Libraries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Specs returns the configured libraries for the loader.
func (c *Config) Specs() []loader.Spec {
	specs := make([]loader.Spec, 0, len(c.Libraries))
	for _, id := range c.LibraryIDs() {
		lib := c.Libraries[id]
		specs = append(specs, loader.Spec{ID: id, Source: lib.Source, Branch: lib.Branch})
	}
	return specs
}

// HistoryOptions returns the settings for history.Open.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		Backend:  c.History.Backend,
		Path:     c.History.Path,
		MongoURI: c.History.MongoURI,
		Database: c.History.Database,
	}
}

// WebhookSecret returns the webhook secret from the configured environment
// variable, or "" when none is configured.
func (c *Config) WebhookSecret() string {
	if c.Server.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Server.SecretEnv)
}
