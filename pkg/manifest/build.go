package manifest

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// Digest algorithm names as they appear in the manifest.
const (
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"
)

// Build produces the manifest for a snapshot from the staged content tree.
// Every listed version is described by the files under its directory;
// ignored versions and libraries without listed versions are left out.
// Up to concurrency files are summarized at once.
func Build(ctx context.Context, s *cdn.Snapshot, contentDir string, built time.Time, concurrency int) (*Manifest, error) {
	m := New(s.CDNVersion)
	m.Built = built.UTC()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	var mu sync.Mutex

	for _, lib := range s.Libraries {
		entry := &Library{
			Name:        lib.Display.Name,
			Description: lib.Display.Description,
			DocsURL:     lib.Display.DocsURL,
			Source:      lib.Source,
			Aliases:     lib.Aliases,
			Versions:    []*Version{},
		}
		if entry.Aliases == nil {
			entry.Aliases = map[string]string{}
		}

		for v := range cdn.Listed(lib) {
			mv := versionEntry(v)
			entry.Versions = append(entry.Versions, mv)

			dir := filepath.Join(contentDir, lib.ID, v.Name)
			files, err := listFiles(dir)
			if err != nil {
				_ = g.Wait()
				return nil, liberrors.Wrap(liberrors.ErrCodeManifest, err, "scan %s/%s", lib.ID, v.Name)
			}
			entrypoints := v.Entrypoints()
			for _, rel := range files {
				path := filepath.Join(dir, filepath.FromSlash(rel))
				g.Go(func() error {
					r, err := Summarize(path)
					if err != nil {
						return liberrors.Wrap(liberrors.ErrCodeManifest, err, "summarize %s/%s/%s", lib.ID, v.Name, rel)
					}
					if desc, ok := entrypoints[rel]; ok {
						r.Entrypoint = true
						r.Description = desc
					}
					mu.Lock()
					mv.Resources[rel] = r
					mu.Unlock()
					return ctx.Err()
				})
			}
		}

		if len(entry.Versions) > 0 {
			m.Libraries[lib.ID] = entry
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

func versionEntry(v *cdn.Version) *Version {
	mv := &Version{
		Name:       v.Name,
		Ref:        v.Ref,
		TarballURL: v.TarballURL,
		GitSHA:     v.CommitSHA,
		Link:       v.ViewURL,
		Resources:  make(map[string]*Resource),
	}
	// Skipped content was never refreshed, so it still describes the
	// previously published commit.
	if st, ok := v.Status.(cdn.Skipped); ok {
		mv.Ref = st.Prior.Ref
		mv.TarballURL = st.Prior.TarballURL
		mv.GitSHA = st.Prior.CommitSHA
		mv.Link = st.Prior.ViewURL
	}
	return mv
}

// listFiles returns the slash-separated paths of the files under dir,
// excluding the provenance marker. Symlinks to files are listed; symlinks to
// directories are not followed. A missing dir lists nothing.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || d.Name() == cdn.ProvenanceFile {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				return nil
			}
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// Summarize computes the size, gzip size and digests of a file.
func Summarize(path string) (*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hashes := map[string]hash.Hash{
		SHA256: sha256.New(),
		SHA384: sha512.New384(),
		SHA512: sha512.New(),
	}
	var gz countingWriter
	zw, err := gzip.NewWriterLevel(&gz, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{zw}
	for _, h := range hashes {
		writers = append(writers, h)
	}
	size, err := io.Copy(io.MultiWriter(writers...), f)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	r := &Resource{Size: size, GzipSize: gz.n, Hashes: make(map[string]Digest, len(hashes))}
	for name, h := range hashes {
		sum := h.Sum(nil)
		r.Hashes[name] = Digest{Hex: hex.EncodeToString(sum), Base64: base64.StdEncoding.EncodeToString(sum)}
	}
	return r, nil
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
