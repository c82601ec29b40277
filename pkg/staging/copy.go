package staging

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/matzehuels/libcdn/pkg/cdn"
)

// copyMapping copies the files matched by m.Src from the snapshot at src
// into dest/m.Dest and returns how many were copied.
//
// Matches keep their path relative to the static prefix of the pattern, so
// "dist/**/*.js" copies "dist/a/b.js" to "<dest>/a/b.js". A pattern naming
// a directory copies the whole directory. Files are first copied into a
// private temporary directory next to dest and then renamed into place, so
// a failed mapping leaves nothing behind.
func copyMapping(src, dest string, m cdn.Mapping) (int, error) {
	base, pattern := doublestar.SplitPattern(m.Src)
	root := filepath.Join(src, filepath.FromSlash(base))

	if info, err := os.Stat(filepath.Join(src, filepath.FromSlash(m.Src))); err == nil && info.IsDir() {
		root = filepath.Join(src, filepath.FromSlash(m.Src))
		pattern = "**"
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}

	target := filepath.Join(dest, filepath.FromSlash(m.Dest))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	for _, rel := range matches {
		if err := copyEntry(filepath.Join(root, filepath.FromSlash(rel)), filepath.Join(tmp, filepath.FromSlash(rel))); err != nil {
			return 0, err
		}
	}
	for _, rel := range matches {
		to := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return 0, err
		}
		if err := os.Rename(filepath.Join(tmp, filepath.FromSlash(rel)), to); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// copyEntry copies a regular file or recreates a symlink, keeping the
// executable bit of regular files.
func copyEntry(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		link, err := os.Readlink(from)
		if err != nil {
			return err
		}
		if path.IsAbs(filepath.ToSlash(link)) {
			return &fs.PathError{Op: "copy", Path: from, Err: fs.ErrPermission}
		}
		return os.Symlink(link, to)
	}

	mode := os.FileMode(0o644)
	if info.Mode().Perm()&0o111 != 0 {
		mode = 0o755
	}
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
