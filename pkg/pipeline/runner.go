package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/libcdn/pkg/cache"
	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/changes"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/invalidate"
	"github.com/matzehuels/libcdn/pkg/loader"
	"github.com/matzehuels/libcdn/pkg/manifest"
	"github.com/matzehuels/libcdn/pkg/observability"
	"github.com/matzehuels/libcdn/pkg/publish"
	"github.com/matzehuels/libcdn/pkg/source"
	"github.com/matzehuels/libcdn/pkg/staging"
	"github.com/matzehuels/libcdn/pkg/storage"
)

// Runner executes publish runs against one publish backend.
//
// The Runner holds no per-run state. Runs sharing a work directory must
// not overlap; the webhook server serializes them through a single worker.
type Runner struct {
	Backend publish.Backend
	Open    source.Opener
	Cache   cache.Cache       // Declaration cache
	Syncer  storage.Syncer    // nil skips the sync stage
	Purger  invalidate.Purger // default: NoopPurger
	History history.Store     // default: NullStore
	Logger  *log.Logger
	Now     func() time.Time
}

// NewRunner creates a runner publishing to backend.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(backend publish.Backend, open source.Opener, c cache.Cache, logger *log.Logger) *Runner {
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Backend: backend,
		Open:    open,
		Cache:   c,
		Purger:  invalidate.NoopPurger{Logger: logger},
		History: history.NullStore{},
		Logger:  logger,
		Now:     time.Now,
	}
}

// run carries the state of one Execute call between stages.
type run struct {
	opts    Options
	logger  *log.Logger
	result  *Result
	content *contentTree
	now     time.Time

	prior    *manifest.Manifest
	head     string
	pending  []string // Locally changed paths the published tree lacks
	dirty    bool
	before   changes.Hashes
	manifest []byte
}

// Execute runs the complete pipeline. The returned Result is non-nil
// whenever options were valid, even on failure; errors are *StageError.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	now := r.now()
	record := history.NewRun(opts.Trigger, now)
	res := &Result{RunID: record.ID, Status: history.StatusRunning}
	st := &run{
		opts:    opts,
		logger:  opts.Logger.With("run", record.ID[:8]),
		result:  res,
		content: newContentTree(opts.WorkDir),
		now:     now,
	}

	err := r.execute(ctx, st)
	res.Stats.Duration = time.Since(now)

	switch {
	case err != nil:
		res.Status = history.StatusFailed
	case opts.DryRun:
		res.Status = history.StatusPlanned
	case res.CommitSHA == "":
		res.Status = history.StatusUnchanged
	default:
		res.Status = history.StatusPublished
	}
	r.record(ctx, st, record, err)
	observability.Pipeline().OnRunComplete(ctx, record.ID, string(res.Status), res.Stats.Duration)

	if err != nil {
		st.logger.Error("run failed", "error", err)
	} else {
		st.logger.Info("run complete", "status", res.Status, "duration", res.Stats.Duration)
	}
	return res, err
}

func (r *Runner) execute(ctx context.Context, st *run) error {
	res := st.result

	// Stage 1: Read published state
	if err := r.stage(ctx, st, StageRead, r.read); err != nil {
		return err
	}

	// Stage 2: Load libraries
	if err := r.stage(ctx, st, StageLoad, r.load); err != nil {
		return err
	}

	// Stage 3: Hash before any mutation
	if err := r.stage(ctx, st, StageHashBefore, func(ctx context.Context, st *run) error {
		h, err := changes.HashTree(ctx, st.content.dir, st.opts.Concurrency)
		st.before = h
		return err
	}); err != nil {
		return err
	}

	// Stage 4: Stage versions needing an update
	if err := r.stage(ctx, st, StageStage, r.stageVersions); err != nil {
		return err
	}

	// Stage 5: Hash after and diff
	if err := r.stage(ctx, st, StageDiff, func(ctx context.Context, st *run) error {
		after, err := changes.HashTree(ctx, st.content.dir, st.opts.Concurrency)
		if err != nil {
			return err
		}
		res.Changes = changes.Diff(st.before, after)
		res.Changes.Carry(st.pending, after)
		added, modified, deleted := res.Changes.Counts()
		st.logger.Info("computed changes",
			"added", added, "modified", modified, "deleted", deleted,
			"only_manifest", res.Changes.OnlyManifestChanged)
		return nil
	}); err != nil {
		return err
	}

	// Stage 6: Build manifest
	if err := r.stage(ctx, st, StageManifest, r.buildManifest); err != nil {
		return err
	}
	res.InvalidationPaths = invalidate.Paths(res.Changes, res.Snapshot, res.Pruned)

	if st.opts.DryRun {
		st.logger.Info("dry run, stopping before commit",
			"updated", len(res.Updated), "invalidations", len(res.InvalidationPaths))
		return nil
	}

	// Stage 7: Commit
	if res.Changes.OnlyManifestChanged {
		st.logger.Info("only the manifest changed, skipping commit, sync and invalidation")
	} else if err := r.stage(ctx, st, StageCommit, r.commit); err != nil {
		return err
	}

	// Stage 8: Write manifest into the content tree
	if err := r.stage(ctx, st, StageWriteManifest, func(ctx context.Context, st *run) error {
		if err := manifest.Write(st.content.dir, res.Manifest); err != nil {
			return err
		}
		if res.CommitSHA != "" {
			return st.content.recordHead(res.CommitSHA, nil)
		}
		// Nothing was committed: the tree is still based on the old head,
		// plus every metadata path that now differs from it.
		return st.content.recordHead(st.head, slices.Collect(res.Changes.Changed()))
	}); err != nil {
		return err
	}

	if res.Changes.OnlyManifestChanged {
		return nil
	}

	// Stage 9: Sync to object storage
	if r.Syncer != nil {
		if err := r.stage(ctx, st, StageSync, func(ctx context.Context, st *run) error {
			removed, err := r.Syncer.Sync(ctx, st.content.dir)
			res.DeletedRemoved = removed
			return err
		}); err != nil {
			return err
		}
	}

	// Stage 10: Invalidate the edge cache. The publish stands even if this
	// fails.
	if len(res.InvalidationPaths) > 0 {
		if err := r.stage(ctx, st, StageInvalidate, func(ctx context.Context, st *run) error {
			id, err := r.purger().Invalidate(ctx, res.InvalidationPaths)
			res.InvalidationID = id
			if err == nil {
				st.logger.Info("invalidated", "paths", len(res.InvalidationPaths), "id", id)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// stage runs one stage with hooks, timing and StageError wrapping.
func (r *Runner) stage(ctx context.Context, st *run, name string, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	observability.Pipeline().OnStageStart(ctx, name)
	start := time.Now()
	err := fn(ctx, st)
	d := time.Since(start)
	st.result.Stats.Stages = append(st.result.Stats.Stages, StageTiming{Stage: name, Duration: d})
	observability.Pipeline().OnStageComplete(ctx, name, d, err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	st.logger.Debug("stage complete", "stage", name, "duration", d)
	return nil
}

func (r *Runner) read(ctx context.Context, st *run) error {
	head, err := r.Backend.GetRef(ctx)
	if err != nil {
		return err
	}
	st.head = head

	dirty, err := st.content.prepare(ctx, r.Backend, head, st.logger)
	if err != nil {
		return err
	}
	st.dirty = dirty
	st.pending = st.content.pendingPaths()

	// With pending paths the local manifest is newer than the published
	// one: it records the provenance those paths carry.
	if len(st.pending) > 0 {
		if local, err := manifest.Read(st.content.dir); err == nil {
			st.prior = local
			st.logger.Debug("reusing unpublished changes", "paths", len(st.pending))
			return nil
		}
	}
	prior, err := r.readManifest(ctx)
	if err != nil {
		return err
	}
	st.prior = prior
	return nil
}

// readManifest returns the published manifest, or nil on a first run.
func (r *Runner) readManifest(ctx context.Context) (*manifest.Manifest, error) {
	data, err := r.Backend.GetFile(ctx, cdn.ManifestPath)
	if errors.Is(err, publish.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

func (r *Runner) load(ctx context.Context, st *run) error {
	force := st.opts.Force || st.dirty
	if st.dirty {
		st.logger.Warn("content tree was left dirty by an earlier run, reloading every version")
	}
	l := loader.New(r.Open, r.Cache, st.logger)
	s, err := l.Load(ctx, st.opts.Libraries, loader.Options{
		CDNVersion:  st.opts.CDNVersion,
		Concurrency: st.opts.Concurrency,
		Force:       force,
		Prior:       st.prior,
		ContentDir:  st.content.dir,
	})
	if err != nil {
		return err
	}
	st.result.Snapshot = s

	versions := 0
	for _, lib := range s.Libraries {
		versions += len(lib.Versions)
	}
	st.logger.Info("loaded libraries",
		"libraries", len(s.Libraries),
		"versions", versions,
		"needing_update", len(cdn.NeedingUpdate(s)))
	return nil
}

func (r *Runner) stageVersions(ctx context.Context, st *run) error {
	// The tree is about to diverge from the recorded head.
	if err := st.content.forgetHead(); err != nil {
		return err
	}
	stager := &staging.Stager{
		ContentDir:  st.content.dir,
		WorkDir:     st.content.scratch,
		Open:        r.Open,
		Concurrency: st.opts.Concurrency,
		Prune:       st.opts.Prune,
		Logger:      st.logger,
	}
	out, err := stager.Stage(ctx, st.result.Snapshot)
	if err != nil {
		return err
	}
	st.result.Updated = out.Staged
	st.result.Pruned = out.Pruned
	st.result.Stats.FilesStaged = out.Files
	return nil
}

func (r *Runner) buildManifest(ctx context.Context, st *run) error {
	m, err := manifest.Build(ctx, st.result.Snapshot, st.content.dir, st.now, st.opts.Concurrency)
	if err != nil {
		return err
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	st.result.Manifest = m
	st.manifest = data
	return nil
}

func (r *Runner) commit(ctx context.Context, st *run) error {
	res := st.result
	tx := &publish.Transaction{
		Backend:     r.Backend,
		Message:     publish.CommitMessage(res.Updated, res.Changes, st.now),
		Concurrency: st.opts.Concurrency,
		Logger:      st.logger,
	}
	pending, err := tx.Prepare(ctx, res.Changes, st.content.dir, st.manifest)
	if err != nil {
		return err
	}
	if pending.Parent != st.head {
		return liberrors.Wrap(liberrors.ErrCodeTransactionConflict, publish.ErrConflict,
			"publish branch moved from %s to %s during the run", st.head, pending.Parent)
	}
	sha, err := tx.Commit(ctx, pending)
	if err != nil {
		return err
	}
	res.CommitSHA = sha
	res.Stats.Uploaded = pending.Uploaded
	res.Stats.Reused = pending.Reused
	return nil
}

// record stores the history entry of a run. A failure to record is logged
// and never fails the run.
func (r *Runner) record(ctx context.Context, st *run, record *history.Run, runErr error) {
	res := st.result
	record.FinishedAt = r.now().UTC()
	record.Status = res.Status
	record.CommitSHA = res.CommitSHA
	record.InvalidationID = res.InvalidationID
	record.UpdatedVersions = history.Updated(res.Updated)
	if res.Changes != nil {
		added, modified, deleted := res.Changes.Counts()
		record.Changes = history.Counts{Added: added, Modified: modified, Deleted: deleted}
	}
	if runErr != nil {
		record.Error = runErr.Error()
		var se *StageError
		if errors.As(runErr, &se) {
			record.FailedStage = se.Stage
		}
	}

	store := r.History
	if store == nil {
		return
	}
	_ = r.stage(context.WithoutCancel(ctx), st, StageHistory, func(ctx context.Context, st *run) error {
		if err := store.Record(ctx, record); err != nil {
			st.logger.Warn("failed to record run", "error", err)
			return err
		}
		return nil
	})
}

func (r *Runner) purger() invalidate.Purger {
	if r.Purger == nil {
		return invalidate.NoopPurger{Logger: r.Logger}
	}
	return r.Purger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
