// Package pipeline provides the incremental publish pipeline of libcdn.
//
// This package implements the complete run used by the CLI and the webhook
// server: read the published state, load every library, stage what changed,
// diff the content tree, then commit, sync and invalidate only what the
// diff requires.
//
// # Architecture
//
// A run consists of these stages, executed strictly in order:
//
//  1. Read: prior manifest and branch head from the publish backend; the
//     local content tree is reused or refreshed from the published tree
//  2. Load: resolve versions and aliases, fetch resource declarations
//  3. Hash before: content-hash the tree before any mutation
//  4. Stage: copy versions needing an update, rewrite alias symlinks
//  5. Diff: hash the tree again and classify every path
//  6. Manifest: build the manifest document in memory
//  7. Commit: two-phase publish transaction, skipped when only the
//     manifest changed
//  8. Write manifest: persist the manifest into the content tree
//  9. Sync: mirror the tree to object storage
//  10. Invalidate: purge the edge cache for changed versions and aliases
//  11. History: record the run
//
// A dry run stops after the manifest stage and reports the plan.
//
// # Usage
//
//	runner := pipeline.NewRunner(backend, source.Options{Token: token}.Opener(), cache, logger)
//	runner.Syncer = &storage.DirSyncer{Dir: "/srv/cdn"}
//	result, err := runner.Execute(ctx, pipeline.Options{
//	    Libraries: cfg.Specs(),
//	    WorkDir:   ".tmp",
//	})
//	if err != nil {
//	    var se *pipeline.StageError
//	    if errors.As(err, &se) {
//	        log.Error("run failed", "stage", se.Stage)
//	    }
//	}
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/libcdn/pkg/buildinfo"
	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/changes"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/loader"
	"github.com/matzehuels/libcdn/pkg/manifest"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultWorkDir holds the content tree and scratch space.
	DefaultWorkDir = ".tmp"

	// DefaultConcurrency bounds concurrent loads, hashing, staging and uploads.
	DefaultConcurrency = 8

	// DefaultTrigger is recorded for runs without an explicit trigger.
	DefaultTrigger = "cli"
)

// Stage names, as reported by StageError and observability hooks.
const (
	StageRead          = "read"
	StageLoad          = "load"
	StageHashBefore    = "hash-before"
	StageStage         = "stage"
	StageDiff          = "diff"
	StageManifest      = "manifest"
	StageCommit        = "commit"
	StageWriteManifest = "write-manifest"
	StageSync          = "sync"
	StageInvalidate    = "invalidate"
	StageHistory       = "history"
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for one pipeline run.
type Options struct {
	Libraries   []loader.Spec
	WorkDir     string // Content tree and scratch space (default: .tmp)
	CDNVersion  string // Stamped into the manifest (default: build version)
	Concurrency int    // default: 8
	Force       bool   // Restage every publishable version
	DryRun      bool   // Stop after building the manifest
	Prune       bool   // Remove versions and libraries that are no longer listed
	Trigger     string // Recorded in history: "cli", "webhook", "manual"

	// Runtime options
	Logger *log.Logger

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// ValidateAndSetDefaults checks required fields and applies defaults.
// This method is idempotent - calling it multiple times has the same effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if len(o.Libraries) == 0 {
		return fmt.Errorf("at least one library is required")
	}
	seen := make(map[string]bool, len(o.Libraries))
	for _, lib := range o.Libraries {
		if seen[lib.ID] {
			return fmt.Errorf("library %q configured twice", lib.ID)
		}
		seen[lib.ID] = true
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}

	if o.WorkDir == "" {
		o.WorkDir = DefaultWorkDir
	}
	if o.CDNVersion == "" {
		o.CDNVersion = buildinfo.CDNVersion()
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Trigger == "" {
		o.Trigger = DefaultTrigger
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// =============================================================================
// Result
// =============================================================================

// Result contains the outputs of a pipeline run. Fields are filled as far
// as the run got.
type Result struct {
	RunID    string
	Status   history.Status
	Snapshot *cdn.Snapshot
	Changes  *changes.Set
	Updated  []cdn.Target // Versions restaged in this run
	Pruned   []string     // Removed "<lib>" and "<lib>/<version>" directories
	Manifest *manifest.Manifest

	CommitSHA         string
	DeletedRemoved    bool // Sync removed objects from storage
	InvalidationPaths []string
	InvalidationID    string

	// Stats contains timing and size information.
	Stats Stats
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Stages      []StageTiming
	FilesStaged int
	Uploaded    int // Blobs uploaded by the commit
	Reused      int // Blobs reused from the published tree
	Duration    time.Duration
}

// StageTiming is the duration of one completed or failed stage.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
