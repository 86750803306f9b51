// Package storage holds the folder/file backends behind the shared space and
// the rooms. A backend stores named files inside flat folders; the empty
// folder name refers to the backend root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// MetadataName is the reserved per-room metadata file. It never shows up
	// in listings and clients cannot upload, download or delete it.
	MetadataName = ".room_info"

	// tempPrefix marks in-flight uploads.
	tempPrefix = ".sfx-upload-"

	maxNameLength = 255
)

var (
	ErrNotExist     = errors.New("file does not exist")
	ErrInvalidName  = errors.New("invalid file name")
	ErrSizeMismatch = errors.New("body length does not match content length")
)

// FileInfo describes one stored file.
type FileInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Backend is a tree of flat folders. Implementations must be safe for
// concurrent use; ordering between writers to the same file is provided by
// Folder, not by the backend.
type Backend interface {
	// List returns the regular files of folder, hidden entries excluded.
	List(ctx context.Context, folder string) ([]FileInfo, error)
	// Put stores r as folder/name, replacing any existing file. size is the
	// expected length or -1 when unknown.
	Put(ctx context.Context, folder, name string, r io.Reader, size int64) (int64, error)
	// Open returns a reader for folder/name. Missing files and non-regular
	// entries yield ErrNotExist.
	Open(ctx context.Context, folder, name string) (io.ReadCloser, FileInfo, error)
	// Delete removes folder/name or returns ErrNotExist.
	Delete(ctx context.Context, folder, name string) error
	// Folders lists the folder names directly below the root.
	Folders(ctx context.Context) ([]string, error)
	// FolderExists reports whether folder is present.
	FolderExists(ctx context.Context, folder string) (bool, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// ValidateName checks a client supplied file name. Only bare names are
// accepted: no separators, no parent references, nothing reserved.
func ValidateName(name string) error {
	if err := checkElement(name); err != nil {
		return err
	}
	if isHidden(name) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// checkElement is the structural part of ValidateName. Backends apply it to
// every folder and file name they touch.
func checkElement(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

func checkFolder(folder string) error {
	if folder == "" {
		return nil
	}
	return checkElement(folder)
}

func isHidden(name string) bool {
	return name == MetadataName || strings.HasPrefix(name, tempPrefix)
}

// ctxReader stops a copy once the request context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
