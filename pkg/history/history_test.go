package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, trigger := range []string{"cli", "webhook", "manual"} {
		run := NewRun(trigger, start.Add(time.Duration(i)*time.Minute))
		run.Status = StatusPublished
		run.FinishedAt = run.StartedAt.Add(time.Second)
		if err := store.Record(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].Trigger != "manual" || runs[1].Trigger != "webhook" {
		t.Errorf("runs not newest first: %s, %s", runs[0].Trigger, runs[1].Trigger)
	}
	if runs[0].ID == "" || runs[0].ID == runs[1].ID {
		t.Error("run ids should be unique")
	}
	if runs[0].Duration() != time.Second {
		t.Errorf("Duration() = %v", runs[0].Duration())
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Record(context.Background(), NewRun("cli", time.Now())); err != nil {
		t.Fatal(err)
	}
	runs, err := store.Recent(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("Recent() = %d runs, %v", len(runs), err)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.Recent(context.Background(), 5)
	if err != nil || len(runs) != 0 {
		t.Errorf("Recent() = %v, %v", runs, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if s, err := Open(ctx, Options{}); err != nil {
		t.Errorf("Open(none) error = %v", err)
	} else if _, ok := s.(NullStore); !ok {
		t.Errorf("Open(none) = %T", s)
	}
	if s, err := Open(ctx, Options{Backend: "file", Path: filepath.Join(t.TempDir(), "runs.jsonl")}); err != nil {
		t.Errorf("Open(file) error = %v", err)
	} else if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(file) = %T", s)
	}
	if _, err := Open(ctx, Options{Backend: "mongo"}); err == nil {
		t.Error("Open(mongo) without uri should fail")
	}
	if _, err := Open(ctx, Options{Backend: "sqlite"}); !liberrors.Is(err, liberrors.ErrCodeInvalidConfig) {
		t.Errorf("Open(sqlite) error = %v, want INVALID_CONFIG", err)
	}
}

func TestUpdated(t *testing.T) {
	lib := &cdn.Library{ID: "demo"}
	got := Updated([]cdn.Target{
		{Library: lib, Version: &cdn.Version{Name: "1.0.0"}},
		{Library: lib, Version: &cdn.Version{Name: "unstable"}},
	})
	if len(got) != 2 || got[0] != "demo@1.0.0" || got[1] != "demo@unstable" {
		t.Errorf("Updated() = %v", got)
	}
}

func TestNewMongoStoreRequiresURI(t *testing.T) {
	if _, err := NewMongoStore(context.Background(), "", ""); err == nil {
		t.Error("empty uri should fail")
	}
}
