package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matzehuels/libcdn/pkg/integrations"
)

func refs(prefix string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"name": fmt.Sprintf("%s%d", prefix, i), "commit": map[string]string{"id": "sha"}}
	}
	return out
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "tok" {
			t.Errorf("PRIVATE-TOKEN = %q", r.Header.Get("PRIVATE-TOKEN"))
		}
		switch r.URL.EscapedPath() {
		case "/projects/group%2Fsub%2Fdemo":
			json.NewEncoder(w).Encode(Project{ID: 7, PathWithNamespace: "group/sub/demo", DefaultBranch: "main"})
		case "/projects/group%2Fsub%2Fdemo/repository/tags":
			if r.URL.Query().Get("page") == "1" {
				json.NewEncoder(w).Encode(refs("v0.0.", 100))
				return
			}
			json.NewEncoder(w).Encode(refs("v1.0.", 2))
		case "/projects/group%2Fsub%2Fdemo/repository/branches":
			json.NewEncoder(w).Encode(refs("b", 1))
		case "/projects/group%2Fsub%2Fdemo/repository/files/.cdn-config.yml/raw":
			if r.URL.Query().Get("ref") != "v1.0.0" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte("name: Demo\n"))
		case "/projects/group%2Fsub%2Fdemo/repository/archive.tar.gz":
			w.Write([]byte("archive@" + r.URL.Query().Get("sha")))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClient(t *testing.T) {
	server := newServer(t)
	defer server.Close()
	c := NewClient(Options{Token: "tok", BaseURL: server.URL + "/"})
	ctx := context.Background()

	project, err := c.GetProject(ctx, "group/sub/demo", true)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.DefaultBranch != "main" || project.ID != 7 {
		t.Errorf("project = %+v", project)
	}

	tags, err := c.ListTags(ctx, "group/sub/demo", true)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 102 || tags[101].Name != "v1.0.1" || tags[0].CommitSHA() != "sha" {
		t.Errorf("got %d tags", len(tags))
	}
	branches, err := c.ListBranches(ctx, "group/sub/demo", true)
	if err != nil || len(branches) != 1 {
		t.Errorf("ListBranches = %v, %v", branches, err)
	}

	data, err := c.FetchFile(ctx, "group/sub/demo", ".cdn-config.yml", "v1.0.0")
	if err != nil || string(data) != "name: Demo\n" {
		t.Errorf("FetchFile = %q, %v", data, err)
	}
	_, err = c.FetchFile(ctx, "group/sub/demo", ".cdn-config.yml", "v0.1.0")
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("missing file error = %v", err)
	}

	body, err := c.DownloadTarball(ctx, "group/sub/demo", "v1.0.0")
	if err != nil {
		t.Fatalf("DownloadTarball: %v", err)
	}
	defer body.Close()
	archive, _ := io.ReadAll(body)
	if string(archive) != "archive@v1.0.0" {
		t.Errorf("archive = %q", archive)
	}
}

func TestClientNotFound(t *testing.T) {
	server := newServer(t)
	defer server.Close()
	c := NewClient(Options{Token: "tok", BaseURL: server.URL})

	_, err := c.GetProject(context.Background(), "group/missing", true)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestURLs(t *testing.T) {
	c := NewClient(Options{})
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if got := c.TarballURL("group/demo", "v1.0.0"); got != DefaultBaseURL+"/projects/group%2Fdemo/repository/archive.tar.gz?sha=v1.0.0" {
		t.Errorf("TarballURL = %q", got)
	}
	if got := c.ViewURL("group/demo", "v1.0.0"); got != "https://gitlab.com/group/demo/-/tree/v1.0.0" {
		t.Errorf("ViewURL = %q", got)
	}
}

func TestValidateProject(t *testing.T) {
	tests := []struct {
		project string
		wantErr bool
	}{
		{"group/demo", false},
		{"group/sub/demo", false},
		{"group/demo.git", false},
		{"demo", true},
		{"group//demo", true},
		{"group/../demo", true},
		{"group/de mo", true},
	}
	for _, tt := range tests {
		if err := ValidateProject(tt.project); (err != nil) != tt.wantErr {
			t.Errorf("ValidateProject(%q) error = %v, wantErr %v", tt.project, err, tt.wantErr)
		}
	}
}
