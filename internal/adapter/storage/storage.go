// Package storage contains the default [domain.Storage] implementation, backed
// by the local file system.
package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

// Storage implements [domain.Storage].
type Storage struct{}

// NewStorage returns a new implementation of [domain.Storage].
func NewStorage() domain.Storage {
	return &Storage{}
}

// CrashSafeWriteFile implements [domain.Storage]. The content is written to
// filename~ and renamed over filename once synced, so that an interrupted
// write leaves either version readable.
func (s *Storage) CrashSafeWriteFile(filename string, data []byte, dirMode, fileMode os.FileMode) error {
	tmp := filename + "~"

	if err := s.flushToStorage(filepath.Dir(filename), true, dirMode); err != nil {
		return err
	}

	exists, err := s.Exists(filename)
	if err != nil {
		return err
	}
	if exists {
		if err := s.flushToStorage(filename, false, fileMode); err != nil {
			return err
		}
	}

	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return err
	}
	if err := s.flushToStorage(tmp, false, fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		return err
	}
	return s.flushToStorage(filepath.Dir(filename), true, dirMode)
}

// EnsureDatafileIntegrity implements [domain.Storage].
func (s *Storage) EnsureDatafileIntegrity(filename string, mode os.FileMode) error {
	tmp := filename + "~"

	exists, err := s.Exists(filename)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	tmpExists, err := s.Exists(tmp)
	if err != nil {
		return err
	}
	// nothing was ever written
	if !tmpExists {
		return os.WriteFile(filename, nil, mode)
	}
	return os.Rename(tmp, filename)
}

// EnsureParentDirectoryExists implements [domain.Storage].
func (s *Storage) EnsureParentDirectoryExists(filename string, mode os.FileMode) error {
	dir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return err
	}
	root := filepath.VolumeName(dir) + string(os.PathSeparator)
	if runtime.GOOS != "windows" || dir != root {
		return os.MkdirAll(dir, mode)
	}
	return nil
}

// Exists implements [domain.Storage].
func (s *Storage) Exists(filename string) (bool, error) {
	_, err := os.Stat(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *Storage) flushToStorage(filename string, isDir bool, mode os.FileMode) error {
	flags := os.O_RDWR
	if isDir {
		flags = os.O_RDONLY
	}

	fh, err := os.OpenFile(filename, flags, mode)
	if err != nil {
		return &domain.FlushToStorageError{ErrorOnFsync: err}
	}

	// Directories cannot be synced on windows.
	if err := fh.Sync(); err != nil && !(isDir && runtime.GOOS == "windows") {
		_ = fh.Close()
		return &domain.FlushToStorageError{ErrorOnFsync: err}
	}

	if err := fh.Close(); err != nil {
		return &domain.FlushToStorageError{ErrorOnClose: err}
	}
	return nil
}

// ReadFileStream implements [domain.Storage].
func (s *Storage) ReadFileStream(filename string) (io.ReadCloser, error) {
	return os.Open(filename)
}

// Remove implements [domain.Storage]. Removing a missing file is not an
// error.
func (s *Storage) Remove(filename string) error {
	if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
