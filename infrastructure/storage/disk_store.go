package storage

import (
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	apperrors "file-relay/errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

var _ contract.FileStore = (*DiskStore)(nil)

// Temp files carry a character that storage names never contain,
// so a half-written upload can't be requested by name.
const tempFilePrefix = "~incoming-"

// DiskStore keeps every stored file flat in one directory of a billy filesystem.
type DiskStore struct {
	fs  billy.Filesystem
	dir string
	log *slog.Logger
}

func NewDiskStore(fs billy.Filesystem, dir string, log *slog.Logger) *DiskStore {
	return &DiskStore{
		fs:  fs,
		dir: dir,
		log: log,
	}
}

// NewOSDiskStore stores files under root/dir on the local disk.
func NewOSDiskStore(root, dir string, log *slog.Logger) *DiskStore {
	return NewDiskStore(osfs.New(root), dir, log)
}

// Write creates the directory if needed, writes data to a temp file and renames
// it into place, so readers only ever see complete files.
func (s *DiskStore) Write(storageName string, data []byte) (string, error) {
	if !domain.IsValidStorageName(storageName) {
		return "", apperrors.Permanent(fmt.Errorf("%w: invalid storage name %q", apperrors.ErrStorageWrite, storageName))
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir %q: %w", apperrors.ErrStorageWrite, s.dir, err)
	}

	tmp, err := s.fs.TempFile(s.dir, tempFilePrefix)
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", apperrors.ErrStorageWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		s.discard(tmpName)
		return "", fmt.Errorf("%w: write %q: %w", apperrors.ErrStorageWrite, storageName, err)
	}
	if err := tmp.Close(); err != nil {
		s.discard(tmpName)
		return "", fmt.Errorf("%w: close %q: %w", apperrors.ErrStorageWrite, storageName, err)
	}

	target := s.fs.Join(s.dir, storageName)
	if err := s.fs.Rename(tmpName, target); err != nil {
		s.discard(tmpName)
		return "", fmt.Errorf("%w: rename to %q: %w", apperrors.ErrStorageWrite, storageName, err)
	}

	s.log.Debug("File stored", "storage_name", storageName, "bytes", len(data))
	return filepath.Join(s.fs.Root(), target), nil
}

// Exists never fails; anything that is not a readable regular file is absent.
func (s *DiskStore) Exists(storageName string) bool {
	if !domain.IsValidStorageName(storageName) {
		return false
	}
	info, err := s.fs.Stat(s.fs.Join(s.dir, storageName))
	return err == nil && info.Mode().IsRegular()
}

// OpenRead returns a single-pass stream over the stored bytes.
func (s *DiskStore) OpenRead(storageName string) (io.ReadCloser, error) {
	if !domain.IsValidStorageName(storageName) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrNotFound, storageName)
	}
	name := s.fs.Join(s.dir, storageName)

	info, err := s.fs.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %q", apperrors.ErrNotFound, storageName)
	case err != nil:
		return nil, fmt.Errorf("%w: stat %q: %w", apperrors.ErrStorageRead, storageName, err)
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("%w: %q is not a file", apperrors.ErrNotFound, storageName)
	}

	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", apperrors.ErrStorageRead, storageName, err)
	}
	return f, nil
}

func (s *DiskStore) discard(name string) {
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("Unable to remove temp file", "path", name, "error", err)
	}
}
