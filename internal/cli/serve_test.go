package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/libcdn/pkg/cdn"
	"github.com/matzehuels/libcdn/pkg/config"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/integrations/github"
	"github.com/matzehuels/libcdn/pkg/pipeline"
	"github.com/matzehuels/libcdn/pkg/publish"
	"github.com/matzehuels/libcdn/pkg/source/sourcetest"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T, secret string) (*server, *publish.MemoryBackend) {
	t.Helper()
	cfg, err := config.Parse(`
[content]
owner = "byuweb"
repo = "web-cdn"

[libraries.demo]
source = "github:byuweb/demo"
branch = "master"
`)
	if err != nil {
		t.Fatal(err)
	}

	p := sourcetest.New()
	decl := &cdn.Declaration{Name: "Demo", Mappings: []cdn.Mapping{{Src: "dist/*"}}}
	p.AddTag("v1.0.0", "sha100", decl, map[string]string{"dist/demo.js": "one"})
	p.SetBranch("master", "shamaster", decl, map[string]string{"dist/demo.js": "dev"})

	backend := publish.NewMemoryBackend()
	logger := log.New(io.Discard)
	runner := pipeline.NewRunner(backend, sourcetest.Opener(map[string]*sourcetest.Provider{"github:byuweb/demo": p}), nil, logger)
	store, err := history.NewFileStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	runner.History = store

	workDir := t.TempDir()
	s := &server{
		runner:  runner,
		history: store,
		options: func(trigger string, force bool) pipeline.Options {
			return pipeline.Options{Libraries: cfg.Specs(), WorkDir: workDir, Force: force, Prune: true, Trigger: trigger}
		},
		repos:  watchedRepos(cfg),
		secret: secret,
		logger: logger,
		queue:  make(chan buildRequest, 1),
	}
	return s, backend
}

func pushPayload(repo, ref string) string {
	return `{"ref":"` + ref + `","after":"abc","repository":{"full_name":"` + repo + `"}}`
}

func postHook(t *testing.T, s *server, event, payload, signature string) (*httptest.ResponseRecorder, buildResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/github", strings.NewReader(payload))
	req.Header.Set(github.EventHeader, event)
	if signature != "" {
		req.Header.Set(github.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	var resp buildResponse
	if rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestWebhookSignature(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	payload := pushPayload("byuweb/demo", "refs/tags/v1.1.0")

	rec, _ := postHook(t, s, "push", payload, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned: status %d, want 401", rec.Code)
	}
	rec, _ = postHook(t, s, "push", payload, github.Sign([]byte(payload), "wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status %d, want 401", rec.Code)
	}

	rec, resp := postHook(t, s, "push", payload, github.Sign([]byte(payload), testSecret))
	if rec.Code != http.StatusAccepted || !resp.Queued {
		t.Errorf("signed: status %d, %+v", rec.Code, resp)
	}
}

func TestWebhookFiltering(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		payload    string
		wantQueued bool
		wantReason string
	}{
		{"ping", "ping", `{}`, false, "pong"},
		{"other event", "issues", `{}`, false, `ignored event "issues"`},
		{"unknown repository", "push", pushPayload("byuweb/other", "refs/tags/v1.0.0"), false, "repository not configured"},
		{"untracked branch", "push", pushPayload("byuweb/demo", "refs/heads/feature"), false, "branch not tracked"},
		{"tracked branch", "push", pushPayload("byuweb/demo", "refs/heads/master"), true, ""},
		{"tag, case-insensitive", "push", pushPayload("BYUWeb/Demo", "refs/tags/v2.0.0"), true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, "")
			_, resp := postHook(t, s, tt.event, tt.payload, "")
			if resp.Queued != tt.wantQueued || resp.Reason != tt.wantReason {
				t.Errorf("response = %+v, want queued=%v reason=%q", resp, tt.wantQueued, tt.wantReason)
			}
		})
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec, _ := postHook(t, s, "push", "{", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestBuildsCoalesce(t *testing.T) {
	s, _ := newTestServer(t, "")
	payload := pushPayload("byuweb/demo", "refs/tags/v1.0.0")

	_, first := postHook(t, s, "push", payload, "")
	_, second := postHook(t, s, "push", payload, "")
	if !first.Queued || second.Queued || second.Reason != "build already queued" {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if len(s.queue) != 1 {
		t.Errorf("queue holds %d builds, want 1", len(s.queue))
	}
}

func TestManualBuildAndRuns(t *testing.T) {
	s, backend := newTestServer(t, testSecret)
	handler := s.routes()

	req := httptest.NewRequest(http.MethodPost, "/builds", strings.NewReader(`{"force":true}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/builds", strings.NewReader(`{"force":true}`))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202", rec.Code)
	}

	queued := <-s.queue
	if queued.Trigger != triggerManual || !queued.Force {
		t.Errorf("queued %+v", queued)
	}
	s.build(context.Background(), queued)
	if _, ok := backend.Files()["demo/1.0.0/demo.js"]; !ok {
		t.Error("build did not publish")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs: status %d", rec.Code)
	}
	var runs []*history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Trigger != triggerManual || runs[0].Status != history.StatusPublished {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunsAndHealth(t *testing.T) {
	s, _ := newTestServer(t, "")
	handler := s.routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty history: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
