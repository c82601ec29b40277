// Package cli implements the libcdn command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/libcdn/pkg/buildinfo"
	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/config"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/integrations/github"
	"github.com/matzehuels/libcdn/pkg/invalidate"
	"github.com/matzehuels/libcdn/pkg/observability"
	"github.com/matzehuels/libcdn/pkg/pipeline"
	"github.com/matzehuels/libcdn/pkg/publish"
	"github.com/matzehuels/libcdn/pkg/source"
	"github.com/matzehuels/libcdn/pkg/storage"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "libcdn"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger     *log.Logger
	ConfigPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger:     newLogger(w, level),
		ConfigPath: config.DefaultPath,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "libcdn",
		Short: "libcdn publishes versioned front-end libraries to a CDN",
		Long: `libcdn mirrors the tagged versions of configured source repositories into
a versioned content tree, commits only what changed to a publish branch,
syncs the tree to object storage and purges the edge cache.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.ConfigPath, "config", "c", config.DefaultPath, "configuration file")

	root.AddCommand(c.runCommand())
	root.AddCommand(c.planCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// versionCommand prints build information.
func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(buildinfo.String())
		},
	}
}

// =============================================================================
// App - Runtime wired from the configuration
// =============================================================================

// app is everything a command needs to run the pipeline.
type app struct {
	cfg     *config.Config
	runner  *pipeline.Runner
	cache   cache.Cache
	history history.Store
}

// loadApp reads the configuration and wires the pipeline runner.
func (c *CLI) loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, c.Logger)
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	cch, err := newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(ctx, cfg.HistoryOptions())
	if err != nil {
		cch.Close()
		return nil, err
	}

	sources := source.Options{
		Token:       cfg.GitHubToken,
		GitLabToken: cfg.GitLabToken,
		Cache:       cch,
		CacheTTL:    cfg.Cache.TTL.Duration,
		RateLimit:   cfg.Run.RateLimit,
	}
	client := github.NewClient(github.Options{Token: cfg.GitHubToken, RateLimit: cfg.Run.RateLimit})
	backend := publish.NewGitHub(client, cfg.Content.Owner, cfg.Content.Repo, cfg.Content.Branch)

	runner := pipeline.NewRunner(backend, sources.Opener(), cch, logger)
	runner.History = store
	if cfg.Storage.Dir != "" {
		runner.Syncer = &storage.DirSyncer{Dir: cfg.Storage.Dir, Concurrency: cfg.Run.Concurrency, Logger: logger}
	}
	if cfg.Invalidation.URL != "" {
		runner.Purger = invalidate.NewHTTPPurgerFromEnv(cfg.Invalidation.URL, cfg.Invalidation.TokenEnv)
	}
	observability.SetPipelineHooks(logHooks{logger: logger})

	return &app{cfg: cfg, runner: runner, cache: cch, history: store}, nil
}

// options returns pipeline options for one run.
func (a *app) options(trigger string, force, dryRun bool) pipeline.Options {
	return pipeline.Options{
		Libraries:   a.cfg.Specs(),
		WorkDir:     a.cfg.Run.WorkDir,
		Concurrency: a.cfg.Run.Concurrency,
		Force:       force,
		DryRun:      dryRun,
		Prune:       !a.cfg.Run.KeepRemoved,
		Trigger:     trigger,
	}
}

// Close releases the cache and history backends.
func (a *app) Close(ctx context.Context) {
	_ = a.history.Close(ctx)
	_ = a.cache.Close()
}

// =============================================================================
// Cache
// =============================================================================

func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.BackendNone:
		return cache.NewNullCache(), nil
	case config.BackendRedis:
		return cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
	}
	dir := cfg.Cache.Dir
	if dir == "" {
		d, err := cacheDir()
		if err != nil {
			return cache.NewNullCache(), nil
		}
		dir = d
	}
	return cache.NewFileCache(dir)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/libcdn/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
