// Package history records pipeline runs.
//
// Each run produces one [Run] record, stored through a [Store]:
//   - file: JSON lines appended to a local file, for the CLI
//   - mongo: a MongoDB collection, for long-running servers
//   - none: records are dropped
//
// The server's GET /runs endpoint reads back the most recent records.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPublished Status = "published"
	StatusUnchanged Status = "unchanged" // Only the manifest changed; nothing was committed
	StatusPlanned   Status = "planned"   // Dry run
	StatusFailed    Status = "failed"
)

// Counts summarizes a change set.
type Counts struct {
	Added    int `json:"added" bson:"added"`
	Modified int `json:"modified" bson:"modified"`
	Deleted  int `json:"deleted" bson:"deleted"`
}

// Run is the record of one pipeline run.
type Run struct {
	ID              string    `json:"id" bson:"_id"`
	StartedAt       time.Time `json:"started_at" bson:"started_at"`
	FinishedAt      time.Time `json:"finished_at" bson:"finished_at"`
	Trigger         string    `json:"trigger" bson:"trigger"` // "cli", "webhook", "manual"
	Status          Status    `json:"status" bson:"status"`
	FailedStage     string    `json:"failed_stage,omitempty" bson:"failed_stage,omitempty"`
	Error           string    `json:"error,omitempty" bson:"error,omitempty"`
	Changes         Counts    `json:"changes" bson:"changes"`
	CommitSHA       string    `json:"commit_sha,omitempty" bson:"commit_sha,omitempty"`
	InvalidationID  string    `json:"invalidation_id,omitempty" bson:"invalidation_id,omitempty"`
	UpdatedVersions []string  `json:"updated_versions,omitempty" bson:"updated_versions,omitempty"`
}

// NewRun starts a record with a fresh id.
func NewRun(trigger string, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: now.UTC(),
		Trigger:   trigger,
		Status:    StatusRunning,
	}
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Updated renders targets as "lib@version" for UpdatedVersions.
func Updated(targets []cdn.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Library.ID+"@"+t.Version.Name)
	}
	return out
}

// Store is the interface for run history backends.
type Store interface {
	// Record stores a finished run.
	Record(ctx context.Context, run *Run) error

	// Recent returns up to n runs, newest first.
	Recent(ctx context.Context, n int) ([]*Run, error)

	Close(ctx context.Context) error
}

// Options selects and configures a Store.
type Options struct {
	Backend  string // "file", "mongo" or "none"
	Path     string // JSON lines file for the file backend
	MongoURI string
	Database string // default: "libcdn"
}

// Open creates the store selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "none":
		return NullStore{}, nil
	case "file":
		return NewFileStore(opts.Path)
	case "mongo":
		return NewMongoStore(ctx, opts.MongoURI, opts.Database)
	default:
		return nil, liberrors.New(liberrors.ErrCodeInvalidConfig, "unknown history backend %q", opts.Backend)
	}
}

// NullStore drops every record.
type NullStore struct{}

func (NullStore) Record(context.Context, *Run) error          { return nil }
func (NullStore) Recent(context.Context, int) ([]*Run, error) { return nil, nil }
func (NullStore) Close(context.Context) error                 { return nil }

var _ Store = NullStore{}
