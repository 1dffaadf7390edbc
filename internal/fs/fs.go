// Package fs is the filesystem seam used to persist signing keys
package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSystem is the minimal set of operations needed for key persistence
type FileSystem interface {
	MkdirAll(path string, perm iofs.FileMode) error
	ReadFile(name string) ([]byte, error)

	// WriteFileAtomic writes all of data or nothing
	WriteFileAtomic(name string, data []byte, perm iofs.FileMode) error

	IsNotExist(err error) bool
}

// OSFileSystem uses the real filesystem
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (f *OSFileSystem) MkdirAll(path string, perm iofs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFileAtomic writes to a temp file in the target directory, syncs it
// and renames it over name
func (f *OSFileSystem) WriteFileAtomic(name string, data []byte, perm iofs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, name); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (f *OSFileSystem) IsNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}

// MemFileSystem keeps files in memory, for tests
type MemFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemFileSystem() *MemFileSystem {
	return &MemFileSystem{files: make(map[string][]byte)}
}

func (m *MemFileSystem) MkdirAll(path string, perm iofs.FileMode) error {
	return nil
}

func (m *MemFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &iofs.PathError{Op: "open", Path: name, Err: iofs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemFileSystem) WriteFileAtomic(name string, data []byte, perm iofs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(name)] = append([]byte(nil), data...)
	return nil
}

func (m *MemFileSystem) IsNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}
