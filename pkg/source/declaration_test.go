package source

import (
	"reflect"
	"testing"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

func TestParseDeclaration(t *testing.T) {
	data := []byte(`
name: Widgets
description: Shared web components
docs: https://example.com/widgets
resources:
  - dist/**
  - src: fonts/*.woff2
    dest: fonts
entrypoints:
  widgets.js: Main bundle
  widgets.css: ~
`)

	decl, err := ParseDeclaration(data)
	if err != nil {
		t.Fatalf("ParseDeclaration: %v", err)
	}
	if decl.Name != "Widgets" || decl.Docs != "https://example.com/widgets" {
		t.Errorf("display = %+v", decl.Display())
	}

	wantMappings := []cdn.Mapping{
		{Src: "dist/**"},
		{Src: "fonts/*.woff2", Dest: "fonts"},
	}
	if !reflect.DeepEqual(decl.Mappings, wantMappings) {
		t.Errorf("mappings = %+v, want %+v", decl.Mappings, wantMappings)
	}

	wantEntries := map[string]string{"widgets.js": "Main bundle", "widgets.css": ""}
	if !reflect.DeepEqual(decl.Entrypoints, wantEntries) {
		t.Errorf("entrypoints = %v, want %v", decl.Entrypoints, wantEntries)
	}
}

func TestParseDeclarationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "name: [unclosed"},
		{"no resources", "name: x\n"},
		{"empty src", "resources:\n  - dest: out\n"},
		{"absolute src", "resources:\n  - /etc/passwd\n"},
		{"traversal src", "resources:\n  - ../secrets/*\n"},
		{"traversal dest", "resources:\n  - src: dist/*\n    dest: ../../x\n"},
		{"bad glob", "resources:\n  - \"dist/[\"\n"},
		{"bad entrypoint", "resources:\n  - dist/*\nentrypoints:\n  ../x.js: nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeclaration([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !liberrors.Is(err, liberrors.ErrCodeInvalidDeclaration) {
				t.Errorf("error code = %q, want %q", liberrors.GetCode(err), liberrors.ErrCodeInvalidDeclaration)
			}
		})
	}
}
