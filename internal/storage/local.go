package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements Store on top of the local filesystem.
// All names are resolved relative to the configured root directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (l *Local) Root() string {
	return l.root
}

// Path returns the filesystem path backing name.
func (l *Local) Path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// Create opens the named file for writing, creating parent directories as
// needed. If the file already exists it is truncated.
func (l *Local) Create(_ context.Context, name string) (io.WriteCloser, error) {
	full := l.Path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}

// Append opens an existing file in append mode.
func (l *Local) Append(_ context.Context, name string) (io.WriteCloser, error) {
	f, err := os.OpenFile(l.Path(name), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, err
	}
	return &syncCloser{File: f}, nil
}

// Open opens the named file for reading.
func (l *Local) Open(_ context.Context, name string) (File, error) {
	return os.Open(l.Path(name))
}

// Size returns the length of the named file.
func (l *Local) Size(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(l.Path(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the named file. If the file does not exist, Remove
// returns nil (idempotent).
func (l *Local) Remove(_ context.Context, name string) error {
	err := os.Remove(l.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Rename moves oldName over newName. On POSIX filesystems the replacement is atomic.
func (l *Local) Rename(_ context.Context, oldName, newName string) error {
	return os.Rename(l.Path(oldName), l.Path(newName))
}

// syncCloser flushes appended frames to disk before closing.
type syncCloser struct {
	*os.File
}

func (s *syncCloser) Close() error {
	syncErr := s.File.Sync()
	closeErr := s.File.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
