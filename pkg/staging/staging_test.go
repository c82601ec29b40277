package staging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/source/sourcetest"
)

func testDecl(mappings ...cdn.Mapping) *cdn.Declaration {
	return &cdn.Declaration{Name: "Demo", Mappings: mappings}
}

func version(name, ref, sha string, decl *cdn.Declaration, needs bool) *cdn.Version {
	return &cdn.Version{Name: name, Ref: ref, CommitSHA: sha, Status: cdn.Publishable{Declaration: decl}, NeedsUpdate: needs}
}

func newStager(t *testing.T, p *sourcetest.Provider) *Stager {
	t.Helper()
	return &Stager{
		ContentDir: filepath.Join(t.TempDir(), "content"),
		WorkDir:    t.TempDir(),
		Open:       sourcetest.Opener(map[string]*sourcetest.Provider{"github:o/demo": p}),
		Prune:      true,
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestStage(t *testing.T) {
	p := sourcetest.New()
	files := map[string]string{
		"dist/demo.js":          "demo",
		"dist/sub/extra.js":     "extra",
		"dist/readme.md":        "not copied",
		"fonts/demo.woff2":      "font",
		"assets/img/logo.svg":   "<svg/>",
		"assets/img/icon.svg":   "<svg/>",
		".cdn-config.yml":       "name: Demo",
		"src/internal/build.js": "internal",
	}
	decl := testDecl(
		cdn.Mapping{Src: "dist/**/*.js"},
		cdn.Mapping{Src: "fonts/*.woff2", Dest: "fonts"},
		cdn.Mapping{Src: "assets/img", Dest: "img"},
	)
	p.AddTag("v1.0.0", "sha1", decl, files)

	st := newStager(t, p)
	lib := &cdn.Library{
		ID:       "demo",
		Source:   "github:o/demo",
		Versions: []*cdn.Version{version("1.0.0", "v1.0.0", "sha1", decl, true)},
		Aliases:  map[string]string{"latest": "1.0.0", "1.x.x": "1.0.0", "1.0.x": "1.0.0"},
	}

	res, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if len(res.Staged) != 1 || res.Files != 5 {
		t.Errorf("result = %d staged, %d files; want 1, 5", len(res.Staged), res.Files)
	}

	root := filepath.Join(st.ContentDir, "demo", "1.0.0")
	want := map[string]string{
		"demo.js":          "demo",
		"sub/extra.js":     "extra",
		"fonts/demo.woff2": "font",
		"img/logo.svg":     "<svg/>",
		"img/icon.svg":     "<svg/>",
		cdn.ProvenanceFile: "sha1",
	}
	for rel, content := range want {
		if got := readFile(t, filepath.Join(root, filepath.FromSlash(rel))); got != content {
			t.Errorf("%s = %q, want %q", rel, got, content)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "readme.md")); !os.IsNotExist(err) {
		t.Error("unmapped file was copied")
	}

	for alias := range lib.Aliases {
		target, err := os.Readlink(filepath.Join(st.ContentDir, "demo", alias))
		if err != nil || target != "1.0.0" {
			t.Errorf("alias %s -> %q, %v", alias, target, err)
		}
	}
	if IsDirty(st.ContentDir) {
		t.Error("dirty marker should be cleared after staging")
	}
	assertNoTempDirs(t, filepath.Join(st.ContentDir, "demo"))
}

func assertNoTempDirs(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if len(e.Name()) > 0 && e.Name()[0] == '.' {
			t.Errorf("temporary entry left behind: %s", e.Name())
		}
	}
}

func TestStageOnlyNeedingUpdate(t *testing.T) {
	p := sourcetest.New()
	decl := testDecl(cdn.Mapping{Src: "*.js"})
	p.AddTag("v1.0.0", "sha1", decl, map[string]string{"a.js": "new"})
	p.AddTag("v1.1.0", "sha2", decl, map[string]string{"b.js": "new"})

	st := newStager(t, p)
	old := filepath.Join(st.ContentDir, "demo", "1.0.0")
	if err := os.MkdirAll(old, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(old, "a.js"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := &cdn.Library{
		ID:     "demo",
		Source: "github:o/demo",
		Versions: []*cdn.Version{
			version("1.0.0", "v1.0.0", "sha1", decl, false),
			version("1.1.0", "v1.1.0", "sha2", decl, true),
		},
	}
	if _, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}}); err != nil {
		t.Fatal(err)
	}

	if got := readFile(t, filepath.Join(old, "a.js")); got != "old" {
		t.Errorf("up-to-date version was restaged: %q", got)
	}
	if p.Downloads("v1.0.0") != 0 || p.Downloads("v1.1.0") != 1 {
		t.Errorf("downloads = %d, %d", p.Downloads("v1.0.0"), p.Downloads("v1.1.0"))
	}
}

func TestStageClearsDestination(t *testing.T) {
	p := sourcetest.New()
	decl := testDecl(cdn.Mapping{Src: "*.js"})
	p.AddTag("v1.0.0", "sha2", decl, map[string]string{"new.js": "new"})

	st := newStager(t, p)
	dest := filepath.Join(st.ContentDir, "demo", "1.0.0")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "removed.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := &cdn.Library{ID: "demo", Source: "github:o/demo", Versions: []*cdn.Version{version("1.0.0", "v1.0.0", "sha2", decl, true)}}
	if _, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "removed.js")); !os.IsNotExist(err) {
		t.Error("stale file survived restaging")
	}
}

func TestStageRewritesAliases(t *testing.T) {
	p := sourcetest.New()
	st := newStager(t, p)
	libDir := filepath.Join(st.ContentDir, "demo")
	for _, v := range []string{"1.0.0", "1.1.0"} {
		if err := os.MkdirAll(filepath.Join(libDir, v), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("1.0.0", filepath.Join(libDir, "latest")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("1.0.0", filepath.Join(libDir, "0.x.x")); err != nil {
		t.Fatal(err)
	}

	decl := testDecl()
	lib := &cdn.Library{
		ID: "demo",
		Versions: []*cdn.Version{
			version("1.0.0", "v1.0.0", "a", decl, false),
			version("1.1.0", "v1.1.0", "b", decl, false),
		},
		Aliases: map[string]string{"latest": "1.1.0", "1.x.x": "1.1.0"},
	}
	if _, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}}); err != nil {
		t.Fatal(err)
	}

	if target, _ := os.Readlink(filepath.Join(libDir, "latest")); target != "1.1.0" {
		t.Errorf("latest -> %q, want 1.1.0", target)
	}
	if _, err := os.Lstat(filepath.Join(libDir, "0.x.x")); !os.IsNotExist(err) {
		t.Error("stale alias was not removed")
	}
	if _, err := os.Stat(filepath.Join(libDir, "1.0.0")); err != nil {
		t.Error("version directory must survive alias cleanup")
	}
}

func TestStagePrunes(t *testing.T) {
	p := sourcetest.New()
	st := newStager(t, p)
	for _, dir := range []string{"demo/1.0.0", "demo/0.1.0", "removed/1.0.0"} {
		if err := os.MkdirAll(filepath.Join(st.ContentDir, filepath.FromSlash(dir)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(st.ContentDir, "README.md"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := &cdn.Library{ID: "demo", Versions: []*cdn.Version{
		version("1.0.0", "v1.0.0", "a", testDecl(), false),
		{Name: "0.1.0", Status: cdn.Ignored{}},
	}}
	res, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}})
	if err != nil {
		t.Fatal(err)
	}

	if want := []string{"demo/0.1.0", "removed"}; !slices.Equal(res.Pruned, want) {
		t.Errorf("Pruned = %v, want %v", res.Pruned, want)
	}
	if _, err := os.Stat(filepath.Join(st.ContentDir, "README.md")); err != nil {
		t.Error("root files must be kept")
	}
	if _, err := os.Stat(filepath.Join(st.ContentDir, "demo", "1.0.0")); err != nil {
		t.Error("listed version was pruned")
	}
}

func TestStageFailureLeavesDirtyMarker(t *testing.T) {
	p := sourcetest.New()
	decl := testDecl(cdn.Mapping{Src: "*.js"})
	st := newStager(t, p)

	// No snapshot registered for the ref, so the download fails.
	lib := &cdn.Library{ID: "demo", Source: "github:o/demo", Versions: []*cdn.Version{version("1.0.0", "v1.0.0", "sha", decl, true)}}
	_, err := st.Stage(context.Background(), &cdn.Snapshot{Libraries: []*cdn.Library{lib}})
	if !liberrors.Is(err, liberrors.ErrCodeStagingFailure) {
		t.Fatalf("error = %v, want STAGING_FAILURE", err)
	}
	if !IsDirty(st.ContentDir) {
		t.Error("dirty marker should survive a failed run")
	}
}

func TestDirtyMarker(t *testing.T) {
	dir := t.TempDir()
	if IsDirty(dir) {
		t.Fatal("fresh tree reported dirty")
	}
	if err := MarkDirty(dir); err != nil {
		t.Fatal(err)
	}
	if !IsDirty(dir) {
		t.Error("marked tree not dirty")
	}
	if err := ClearDirty(dir); err != nil {
		t.Fatal(err)
	}
	if err := ClearDirty(dir); err != nil {
		t.Errorf("clearing twice: %v", err)
	}
	if IsDirty(dir) {
		t.Error("cleared tree still dirty")
	}
}

func TestCopyMappingPreservesModes(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "lib", "1.0.0")
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "run"), []byte("#!/bin/sh"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("run", filepath.Join(src, "bin", "start")); err != nil {
		t.Fatal(err)
	}

	n, err := copyMapping(src, dest, cdn.Mapping{Src: "bin/*"})
	if err != nil {
		t.Fatalf("copyMapping: %v", err)
	}
	if n != 2 {
		t.Errorf("copied %d files, want 2", n)
	}

	info, err := os.Stat(filepath.Join(dest, "run"))
	if err != nil || info.Mode().Perm()&0o100 == 0 {
		t.Errorf("run mode = %v, %v", info, err)
	}
	if link, err := os.Readlink(filepath.Join(dest, "start")); err != nil || link != "run" {
		t.Errorf("start -> %q, %v", link, err)
	}

	n, err = copyMapping(src, dest, cdn.Mapping{Src: "missing/*.js"})
	if err != nil || n != 0 {
		t.Errorf("missing base = %d, %v", n, err)
	}
}
