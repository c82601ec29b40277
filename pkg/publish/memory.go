package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory publish branch. Object ids are content
// hashes, so identical trees get identical ids.
type MemoryBackend struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	trees   map[string][]Entry
	commits map[string]memoryCommit
	head    string

	blobUploads int
}

type memoryCommit struct {
	message string
	tree    string
	parents []string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a branch holding one commit with an empty tree.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{
		blobs:   make(map[string][]byte),
		trees:   make(map[string][]Entry),
		commits: make(map[string]memoryCommit),
	}
	tree := m.putTree(nil)
	m.head = m.putCommit(memoryCommit{message: "Initial commit", tree: tree})
	return m
}

func objectID(kind string, parts ...string) string {
	h := sha1.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *MemoryBackend) putTree(entries []Entry) string {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	parts := make([]string, 0, len(sorted)*3)
	for _, e := range sorted {
		parts = append(parts, e.Path, e.Mode, e.SHA)
	}
	id := objectID("tree", parts...)
	m.trees[id] = sorted
	return id
}

func (m *MemoryBackend) putCommit(c memoryCommit) string {
	parts := append([]string{c.message, c.tree}, c.parents...)
	parts = append(parts, fmt.Sprint(len(m.commits)))
	id := objectID("commit", parts...)
	m.commits[id] = c
	return id
}

// GetRef implements Backend.
func (m *MemoryBackend) GetRef(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

// GetCommit implements Backend.
func (m *MemoryBackend) GetCommit(ctx context.Context, sha string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return "", fmt.Errorf("commit %s: %w", sha, ErrNotFound)
	}
	return c.tree, nil
}

// GetTree implements Backend.
func (m *MemoryBackend) GetTree(ctx context.Context, sha string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.trees[sha]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", sha, ErrNotFound)
	}
	return append([]Entry(nil), entries...), nil
}

// CreateBlob implements Backend.
func (m *MemoryBackend) CreateBlob(ctx context.Context, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := objectID("blob", string(content))
	m.blobs[id] = append([]byte(nil), content...)
	m.blobUploads++
	return id, nil
}

// CreateTree implements Backend.
func (m *MemoryBackend) CreateTree(ctx context.Context, entries []Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.blobs[e.SHA]; !ok {
			return "", fmt.Errorf("tree entry %s: blob %s: %w", e.Path, e.SHA, ErrNotFound)
		}
	}
	return m.putTree(entries), nil
}

// CreateCommit implements Backend.
func (m *MemoryBackend) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trees[tree]; !ok {
		return "", fmt.Errorf("tree %s: %w", tree, ErrNotFound)
	}
	return m.putCommit(memoryCommit{message: message, tree: tree, parents: parents}), nil
}

// UpdateRef implements Backend. Only commits whose first parent is the
// current head are accepted.
func (m *MemoryBackend) UpdateRef(ctx context.Context, sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return fmt.Errorf("commit %s: %w", sha, ErrNotFound)
	}
	if len(c.parents) == 0 || c.parents[0] != m.head {
		return fmt.Errorf("%w: %s is not a fast-forward of %s", ErrConflict, sha, m.head)
	}
	m.head = sha
	return nil
}

// GetFile implements Backend.
func (m *MemoryBackend) GetFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.trees[m.commits[m.head].tree] {
		if e.Path == path {
			return append([]byte(nil), m.blobs[e.SHA]...), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

// DownloadSnapshot implements Backend.
func (m *MemoryBackend) DownloadSnapshot(ctx context.Context, destDir string) error {
	m.mu.Lock()
	entries := append([]Entry(nil), m.trees[m.commits[m.head].tree]...)
	blobs := make(map[string][]byte, len(entries))
	for _, e := range entries {
		blobs[e.SHA] = m.blobs[e.SHA]
	}
	m.mu.Unlock()

	for _, e := range entries {
		target := filepath.Join(destDir, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		var err error
		switch e.Mode {
		case ModeSymlink:
			err = os.Symlink(string(blobs[e.SHA]), target)
		case ModeExecutable:
			err = os.WriteFile(target, blobs[e.SHA], 0o755)
		default:
			err = os.WriteFile(target, blobs[e.SHA], 0o644)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// BlobUploads returns how many blobs were created so far.
func (m *MemoryBackend) BlobUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobUploads
}

// Files returns the paths and contents of the head tree.
func (m *MemoryBackend) Files() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, e := range m.trees[m.commits[m.head].tree] {
		out[e.Path] = string(m.blobs[e.SHA])
	}
	return out
}

// Parents returns the parents of a commit.
func (m *MemoryBackend) Parents(sha string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commits[sha].parents...)
}
