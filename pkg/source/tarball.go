package source

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// ExtractTarball extracts a gzip-compressed tarball into destDir, which is
// created if needed. The single top-level directory every source archive
// wraps its content in is stripped. Regular files keep their executable
// bit; symlinks must point inside destDir. Other entry types are ignored.
func ExtractTarball(r io.Reader, destDir string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name, ok := stripTopLevel(hdr.Name)
		if !ok {
			continue
		}
		if err := liberrors.ValidatePath(name); err != nil {
			return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !linkInside(name, hdr.Linkname) {
				return liberrors.New(liberrors.ErrCodeInvalidPath, "symlink %q escapes snapshot: %s", name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// stripTopLevel removes the first path segment of a tar entry name. Entries
// that are the top-level directory itself, or pax headers, report false.
func stripTopLevel(name string) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	_, rest, ok := strings.Cut(name, "/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// linkInside reports whether a symlink at name with the given target
// resolves within the extraction root.
func linkInside(name, link string) bool {
	if link == "" || path.IsAbs(link) {
		return false
	}
	resolved := path.Join(path.Dir(name), link)
	return resolved != ".." && !strings.HasPrefix(resolved, "../")
}

func fileMode(mode int64) os.FileMode {
	if mode&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
