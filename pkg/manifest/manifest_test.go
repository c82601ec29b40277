package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.js")
	content := strings.Repeat("console.log('hello');\n", 100)
	writeFile(t, path, content)

	r, err := Summarize(path)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if r.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", r.Size, len(content))
	}
	if r.GzipSize <= 0 || r.GzipSize >= r.Size {
		t.Errorf("GzipSize = %d for repetitive content of %d bytes", r.GzipSize, r.Size)
	}

	sum := sha256.Sum256([]byte(content))
	got := r.Hashes[SHA256]
	if got.Hex != hex.EncodeToString(sum[:]) || got.Base64 != base64.StdEncoding.EncodeToString(sum[:]) {
		t.Errorf("sha256 = %+v", got)
	}
	for _, name := range []string{SHA384, SHA512} {
		if r.Hashes[name].Hex == "" {
			t.Errorf("missing %s digest", name)
		}
	}

	again, err := Summarize(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.GzipSize != r.GzipSize {
		t.Errorf("gzip size not deterministic: %d vs %d", again.GzipSize, r.GzipSize)
	}
}

func testSnapshot() *cdn.Snapshot {
	decl := &cdn.Declaration{Name: "Demo", Entrypoints: map[string]string{"demo.js": "Main bundle"}}
	return &cdn.Snapshot{
		CDNVersion: "1.0.0",
		Libraries: []*cdn.Library{{
			ID:      "demo",
			Source:  "github:owner/demo",
			Display: cdn.Display{Name: "Demo", DocsURL: "https://docs"},
			Aliases: map[string]string{"latest": "1.1.0", "1.x.x": "1.1.0", "1.1.x": "1.1.0"},
			Versions: []*cdn.Version{
				{Name: "1.1.0", Ref: "v1.1.0", CommitSHA: "new", ViewURL: "https://view/v1.1.0", Status: cdn.Publishable{Declaration: decl}},
				{Name: "1.0.0", Ref: "v1.0.0", CommitSHA: "moved", Status: cdn.Skipped{
					Reason: "declaration missing",
					Prior: cdn.PriorEntry{
						Ref:         "v1.0.0",
						CommitSHA:   "old",
						ViewURL:     "https://view/v1.0.0",
						Entrypoints: map[string]string{"legacy.js": "Legacy"},
					},
				}},
				{Name: "0.1.0", Status: cdn.Ignored{Reason: "no declaration"}},
			},
		}, {
			ID:       "empty",
			Versions: []*cdn.Version{{Name: "1.0.0", Status: cdn.Ignored{}}},
		}},
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "demo", "1.1.0", "demo.js"), "demo")
	writeFile(t, filepath.Join(dir, "demo", "1.1.0", "css", "demo.css"), "body{}")
	writeFile(t, filepath.Join(dir, "demo", "1.1.0", cdn.ProvenanceFile), "new")
	writeFile(t, filepath.Join(dir, "demo", "1.0.0", "legacy.js"), "legacy")

	built := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := Build(context.Background(), testSnapshot(), dir, built, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if m.CDNVersion != "1.0.0" || !m.Built.Equal(built) {
		t.Errorf("header = %q %v", m.CDNVersion, m.Built)
	}
	if _, ok := m.Libraries["empty"]; ok {
		t.Error("library without listed versions should be omitted")
	}

	lib := m.Library("demo")
	if lib == nil {
		t.Fatal("demo missing")
	}
	if lib.Name != "Demo" || lib.DocsURL != "https://docs" || lib.Source != "github:owner/demo" {
		t.Errorf("library = %+v", lib)
	}
	if len(lib.Versions) != 2 {
		t.Fatalf("got %d versions, want 2 (ignored excluded)", len(lib.Versions))
	}

	v := m.Version("demo", "1.1.0")
	if v.GitSHA != "new" || v.Link != "https://view/v1.1.0" {
		t.Errorf("1.1.0 = %+v", v)
	}
	if len(v.Resources) != 2 {
		t.Errorf("resources = %v, want demo.js and css/demo.css", v.Resources)
	}
	if r := v.Resources["demo.js"]; r == nil || !r.Entrypoint || r.Description != "Main bundle" {
		t.Errorf("demo.js = %+v", r)
	}
	if r := v.Resources["css/demo.css"]; r == nil || r.Entrypoint {
		t.Errorf("css/demo.css = %+v", r)
	}
	if _, ok := v.Resources[cdn.ProvenanceFile]; ok {
		t.Error("provenance marker must not be listed")
	}

	skipped := m.Version("demo", "1.0.0")
	if skipped.GitSHA != "old" || skipped.Link != "https://view/v1.0.0" {
		t.Errorf("skipped version should keep prior pointers: %+v", skipped)
	}
	if r := skipped.Resources["legacy.js"]; r == nil || !r.Entrypoint || r.Description != "Legacy" {
		t.Errorf("legacy.js = %+v", r)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "demo", "1.1.0", "demo.js"), "demo")
	writeFile(t, filepath.Join(dir, "demo", "1.0.0", "legacy.js"), "legacy")

	m, err := Build(context.Background(), testSnapshot(), dir, time.Now(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(dir, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, cdn.ManifestPath))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "}\n") || !strings.Contains(string(data), "\n  \"libraries\"") {
		t.Errorf("manifest not indented with trailing newline:\n%s", data)
	}
	if !strings.Contains(string(data), `"$cdn-version": "1.0.0"`) {
		t.Errorf("missing $cdn-version:\n%s", data)
	}

	read, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	prior := read.Version("demo", "1.1.0").Prior()
	if prior.CommitSHA != "new" || prior.Entrypoints["demo.js"] != "Main bundle" {
		t.Errorf("prior entry = %+v", prior)
	}
	if got := read.Library("demo").Display(); got.Name != "Demo" {
		t.Errorf("display = %+v", got)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".manifest-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	if !os.IsNotExist(err) {
		t.Errorf("Read missing = %v, want not-exist", err)
	}
}

func TestParseIgnoresUnknownFields(t *testing.T) {
	m, err := Parse([]byte(`{"$cdn-version":"0.9","$built":"2017-01-01T00:00:00Z","future":true,
		"libraries":{"demo":{"name":"Demo","versions":[{"name":"1.0.0","git_sha":"a","extra":1,
		"resources":{"a.js":{"entrypoint":true,"size":1,"gzipped_size":3}}}]}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v := m.Version("demo", "1.0.0"); v == nil || v.GitSHA != "a" {
		t.Errorf("version = %+v", v)
	}
	if m.Version("demo", "2.0.0") != nil || m.Version("other", "1.0.0") != nil {
		t.Error("lookups of missing entries should be nil")
	}

	_, err = Parse([]byte("{"))
	if !liberrors.Is(err, liberrors.ErrCodeManifest) {
		t.Errorf("bad json error = %v", err)
	}

	var nilManifest *Manifest
	if nilManifest.Library("demo") != nil {
		t.Error("nil manifest lookup should be nil")
	}
}
