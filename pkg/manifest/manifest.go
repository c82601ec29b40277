// Package manifest reads, builds and writes the published manifest document.
//
// The manifest lives at [cdn.ManifestPath] in the content tree and lists
// every published library with its aliases, versions and per-file
// resources (size, gzip size and digests). It is read once at the start of
// a run as prior state and written once at the end. Unknown fields are
// ignored on read so older and newer pipelines can share a content tree.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// Manifest is the published manifest document.
type Manifest struct {
	CDNVersion string              `json:"$cdn-version"`
	Built      time.Time           `json:"$built"`
	Libraries  map[string]*Library `json:"libraries"`
}

// Library is the manifest entry of one library.
type Library struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	DocsURL     string            `json:"docs_url"`
	Source      string            `json:"source"`
	Aliases     map[string]string `json:"aliases"`
	Versions    []*Version        `json:"versions"`
}

// Version is the manifest entry of one published version.
type Version struct {
	Name       string               `json:"name"`
	Ref        string               `json:"ref"`
	TarballURL string               `json:"tarball_url"`
	GitSHA     string               `json:"git_sha"`
	Link       string               `json:"link"`
	Resources  map[string]*Resource `json:"resources"`
}

// Resource describes one published file of a version.
type Resource struct {
	Entrypoint  bool              `json:"entrypoint"`
	Description string            `json:"description,omitempty"`
	Size        int64             `json:"size"`
	GzipSize    int64             `json:"gzip_size"`
	Hashes      map[string]Digest `json:"hashes"`
}

// Digest is a file digest in both encodings used by subresource integrity
// and by download checks.
type Digest struct {
	Hex    string `json:"hex"`
	Base64 string `json:"base64"`
}

// New returns an empty manifest.
func New(cdnVersion string) *Manifest {
	return &Manifest{CDNVersion: cdnVersion, Libraries: make(map[string]*Library)}
}

// Library returns the entry of library id, or nil.
func (m *Manifest) Library(id string) *Library {
	if m == nil {
		return nil
	}
	return m.Libraries[id]
}

// Version returns the entry of a library version, or nil.
func (m *Manifest) Version(lib, name string) *Version {
	l := m.Library(lib)
	if l == nil {
		return nil
	}
	for _, v := range l.Versions {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Display returns the stored display metadata of the library.
func (l *Library) Display() cdn.Display {
	return cdn.Display{Name: l.Name, Description: l.Description, DocsURL: l.DocsURL}
}

// Prior converts the entry into the data a skipped version keeps: its
// source pointers and the entry points recorded for its resources.
func (v *Version) Prior() cdn.PriorEntry {
	entry := cdn.PriorEntry{
		Ref:         v.Ref,
		CommitSHA:   v.GitSHA,
		TarballURL:  v.TarballURL,
		ViewURL:     v.Link,
		Entrypoints: make(map[string]string),
	}
	for path, r := range v.Resources {
		if r != nil && r.Entrypoint {
			entry.Entrypoints[path] = r.Description
		}
	}
	return entry
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeManifest, err, "parse manifest")
	}
	if m.Libraries == nil {
		m.Libraries = make(map[string]*Library)
	}
	return &m, nil
}

// Read reads the manifest at the root of a content tree. A missing manifest
// is reported with an error satisfying os.IsNotExist.
func Read(contentDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(contentDir, cdn.ManifestPath))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Marshal encodes the manifest with two-space indentation and a trailing
// newline.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeManifest, err, "encode manifest")
	}
	return buf.Bytes(), nil
}

// Write writes the manifest to the root of a content tree. The file is
// replaced atomically.
func Write(contentDir string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(contentDir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmpPath, filepath.Join(contentDir, cdn.ManifestPath))
}
