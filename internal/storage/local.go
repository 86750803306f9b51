package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local keeps folders as directories below root.
type Local struct {
	root string
}

// NewLocal creates root if needed and returns a backend rooted there.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) dir(folder string) (string, error) {
	if err := checkFolder(folder); err != nil {
		return "", err
	}
	return filepath.Join(l.root, folder), nil
}

func (l *Local) path(folder, name string) (string, error) {
	dir, err := l.dir(folder)
	if err != nil {
		return "", err
	}
	if err := checkElement(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (l *Local) List(ctx context.Context, folder string) ([]FileInfo, error) {
	dir, err := l.dir(folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("list %q: %w", folder, ErrNotExist)
		}
		return nil, fmt.Errorf("list %q: %w", folder, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if isHidden(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

func (l *Local) Put(ctx context.Context, folder, name string, r io.Reader, size int64) (int64, error) {
	target, err := l.path(folder, name)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// The sender hung up before the announced length.
		return n, fmt.Errorf("write %q: got %d of %d bytes: %w", name, n, size, ErrSizeMismatch)
	}
	if err != nil {
		return n, fmt.Errorf("write %q: %w", name, err)
	}
	if size >= 0 && n != size {
		return n, fmt.Errorf("write %q: got %d of %d bytes: %w", name, n, size, ErrSizeMismatch)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close %q: %w", name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return n, fmt.Errorf("commit %q: %w", name, err)
	}
	committed = true
	return n, nil
}

func (l *Local) Open(ctx context.Context, folder, name string) (io.ReadCloser, FileInfo, error) {
	p, err := l.path(folder, name)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, FileInfo{}, fmt.Errorf("open %q: %w", name, ErrNotExist)
		}
		return nil, FileInfo{}, fmt.Errorf("open %q: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileInfo{}, fmt.Errorf("stat %q: %w", name, err)
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, FileInfo{}, fmt.Errorf("open %q: %w", name, ErrNotExist)
	}
	return f, FileInfo{Name: name, Size: st.Size(), Modified: st.ModTime()}, nil
}

func (l *Local) Delete(ctx context.Context, folder, name string) error {
	p, err := l.path(folder, name)
	if err != nil {
		return err
	}
	st, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %q: %w", name, ErrNotExist)
		}
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("delete %q: %w", name, ErrNotExist)
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %q: %w", name, ErrNotExist)
		}
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func (l *Local) Folders(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !isHidden(entry.Name()) {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

func (l *Local) FolderExists(ctx context.Context, folder string) (bool, error) {
	dir, err := l.dir(folder)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir(), nil
}

func (l *Local) Ping(ctx context.Context) error {
	st, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", l.root)
	}
	return nil
}
