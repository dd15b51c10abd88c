package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

/* Store blobs as files on a local filesystem. */
type FilesystemBackend struct {
	root string
}

// NewEmptyFilesystemBackend returns a backend with no data.
// Intended for testing, as aborted tests may otherwise leave files on disk.
func NewEmptyFilesystemBackend(root string) (*FilesystemBackend, error) {
	err := os.RemoveAll(root)
	if err != nil {
		return nil, err
	}
	return NewFilesystemBackend(root)
}

func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	err := os.MkdirAll(root, 0755)
	return &FilesystemBackend{root}, err
}

func (s *FilesystemBackend) Name() string { return "filesystem" }

func (s *FilesystemBackend) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func accessOrNotFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w", &NotFoundError{})
	}
	return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
}

// Put writes to a temporary file in the destination directory and renames it into place.
func (s *FilesystemBackend) Put(ctx context.Context, name string, data []byte) error {
	path := s.path(name)
	dirname := filepath.Dir(path)
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	f, err := os.CreateTemp(dirname, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	tmpName := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

func (s *FilesystemBackend) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, accessOrNotFound(err)
	}
	return data, nil
}

func (s *FilesystemBackend) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := os.Stat(s.path(name)); err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	} else {
		return false, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
}

// List walks the directory holding prefix; temporary files from interrupted writes are skipped.
func (s *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir = filepath.ToSlash(filepath.Dir(prefix))
	}
	ret := []string{}
	start := s.path(dir)
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			ret = append(ret, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return ret, nil
}

func (s *FilesystemBackend) Delete(ctx context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

func (s *FilesystemBackend) Close() error { return nil }
