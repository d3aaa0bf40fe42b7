package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a local directory, e.g. a
// mounted network share.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all dataset files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsDatasetFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// Download copies the stored file to dest. Copying a file onto itself is a
// no-op.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	src, err := s.resolve(key)
	if err != nil {
		return err
	}
	if filepath.Clean(src) == filepath.Clean(dest) {
		return nil
	}

	f, err := os.Open(src) //#nosec G304 -- src is resolved below the base path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return writeFile(dest, f)
}

// Upload copies the local file src into the base directory under key.
func (s *LocalStorage) Upload(_ context.Context, src string, key string) error {
	dest, err := s.resolve(key)
	if err != nil {
		return err
	}
	if filepath.Clean(src) == filepath.Clean(dest) {
		return nil
	}

	f, err := os.Open(src) //#nosec G304 -- src is a run output
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return writeFile(dest, f)
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p) //#nosec G304 -- p is resolved below the base path
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// resolve maps key below the base path and rejects keys escaping it.
func (s *LocalStorage) resolve(key string) (string, error) {
	p := s.FullPath(key)
	rel, err := filepath.Rel(s.basePath, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q leaves the storage directory: %w", key, domain.ErrInvalidInput)
	}
	return p, nil
}
