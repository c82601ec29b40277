package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/changes"
	"github.com/matzehuels/libcdn/pkg/config"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/invalidate"
	"github.com/matzehuels/libcdn/pkg/observability"
	"github.com/matzehuels/libcdn/pkg/pipeline"
)

func TestRootCommand(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()
	for _, name := range []string{"run", "plan", "serve", "history", "cache", "version", "completion"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil || f.DefValue != config.DefaultPath {
		t.Error("--config flag missing")
	}
}

func TestCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		root := New(io.Discard, LogInfo).RootCommand()
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetArgs([]string{"completion", shell})
		if err := root.Execute(); err != nil {
			t.Fatalf("completion %s: %v", shell, err)
		}
		if !strings.Contains(buf.String(), "libcdn") {
			t.Errorf("completion %s output does not mention libcdn", shell)
		}
	}

	root := New(io.Discard, LogInfo).RootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"completion", "tcsh"})
	if err := root.Execute(); err == nil {
		t.Error("unsupported shell should fail")
	}
}

func TestRunMissingConfig(t *testing.T) {
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetArgs([]string{"run", "--config", "/nonexistent/libcdn.toml"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want missing config", err)
	}
}

func TestNewApp(t *testing.T) {
	t.Cleanup(observability.Reset)
	cfg, err := config.Parse(`
[content]
owner = "byuweb"
repo = "web-cdn"

[storage]
dir = "/srv/cdn"

[invalidation]
url = "https://purge.example/api"

[cache]
backend = "none"

[history]
backend = "none"

[run]
keep_removed = true

[libraries.demo]
source = "github:byuweb/demo"
`)
	if err != nil {
		t.Fatal(err)
	}

	a, err := newApp(context.Background(), cfg, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())

	if a.runner.Syncer == nil {
		t.Error("storage dir should enable syncing")
	}
	if _, ok := a.runner.Purger.(*invalidate.HTTPPurger); !ok {
		t.Errorf("Purger = %T, want *invalidate.HTTPPurger", a.runner.Purger)
	}
	if _, ok := observability.Pipeline().(logHooks); !ok {
		t.Error("pipeline hooks not installed")
	}

	opts := a.options("cli", true, true)
	if opts.Prune || !opts.Force || !opts.DryRun || len(opts.Libraries) != 1 || opts.WorkDir != config.DefaultWorkDir {
		t.Errorf("options = %+v", opts)
	}
}

func TestPrinterResult(t *testing.T) {
	res := &pipeline.Result{
		Status: history.StatusPublished,
		Updated: []cdn.Target{
			{Library: &cdn.Library{ID: "demo"}, Version: &cdn.Version{Name: "1.1.0"}},
		},
		Pruned:    []string{"demo/1.0.0"},
		Changes:   &changes.Set{Modified: []string{"demo/1.1.0/demo.js"}, Deleted: []string{"demo/1.0.0/demo.js"}},
		CommitSHA: "c0ffee",
		Stats:     pipeline.Stats{Uploaded: 2, Reused: 1, Duration: 1500 * time.Millisecond},
	}

	var buf bytes.Buffer
	printer{w: &buf}.result(res)
	out := buf.String()
	for _, want := range []string{"Published 1 version", "demo@1.1.0", "demo/1.0.0", "(removed)", "0 added", "1 modified", "1 deleted", "c0ffee", "2 blobs, 1 reused", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinterRuns(t *testing.T) {
	var buf bytes.Buffer
	printer{w: &buf}.runs(nil)
	if !strings.Contains(buf.String(), "No runs recorded") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	printer{w: &buf}.runs([]*history.Run{{
		StartedAt:       start,
		FinishedAt:      start.Add(3 * time.Second),
		Trigger:         "webhook",
		Status:          history.StatusFailed,
		FailedStage:     "commit",
		UpdatedVersions: []string{"demo@1.1.0"},
	}})
	for _, want := range []string{"failed", "webhook", "3s", "failed in commit", "demo@1.1.0"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}
