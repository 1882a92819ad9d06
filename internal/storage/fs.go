package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FSStore keeps objects as files under a single directory. Writes go through
// a temp file and an atomic rename so readers never observe partial objects.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(name string) string {
	// filepath.Base strips any path separators a caller may smuggle in.
	return filepath.Join(s.dir, filepath.Base(name))
}

func (s *FSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	_ = ctx
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *FSStore) Write(ctx context.Context, name string, data []byte) error {
	_ = ctx
	dst := s.path(name)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	_ = ctx
	_, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
