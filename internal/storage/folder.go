package storage

import (
	"context"
	"io"
	"sync"
)

// Folder is one lockable folder of a backend: the shared space or a room.
// Writers (Put, Delete) are serialised against each other and against
// readers; List and Open may run concurrently.
//
// Open only holds the lock while the file is opened. Both backends replace
// files atomically, so a reader keeps seeing the version it opened.
type Folder struct {
	backend Backend
	name    string
	mu      sync.RWMutex
}

// NewFolder binds name inside backend. The empty name is the backend root.
func NewFolder(backend Backend, name string) *Folder {
	return &Folder{backend: backend, name: name}
}

// Name returns the folder name inside its backend.
func (f *Folder) Name() string { return f.name }

func (f *Folder) List(ctx context.Context) ([]FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.backend.List(ctx, f.name)
}

// Count returns the number of visible files.
func (f *Folder) Count(ctx context.Context) (int, error) {
	files, err := f.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Put validates name and stores r under it, replacing any previous file.
func (f *Folder) Put(ctx context.Context, name string, r io.Reader, size int64) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backend.Put(ctx, f.name, name, r, size)
}

func (f *Folder) Open(ctx context.Context, name string) (io.ReadCloser, FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, FileInfo{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.backend.Open(ctx, f.name, name)
}

func (f *Folder) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backend.Delete(ctx, f.name, name)
}
