package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrNotFound = errors.New("storage: object not found")

// Store is a durable whole-object store. Filenames are derived
// deterministically from task/context ids by the callers, so Write replaces
// any previous object under the same name.
type Store interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Write(ctx context.Context, name string, data []byte) error
	Exists(ctx context.Context, name string) (bool, error)
}

// RequestFilename and ResultFilename derive the canonical object names for a
// task's uploaded source image and its generation result.
func RequestFilename(taskID string) string { return fmt.Sprintf("%s-request", taskID) }

func ResultFilename(taskID string) string { return fmt.Sprintf("%s-result", taskID) }

// ReadAll is a small convenience over Open for whole-object reads.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
