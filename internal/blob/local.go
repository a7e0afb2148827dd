package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps documents under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore returns a store rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Root returns the directory documents are written under.
func (s *LocalStore) Root() string { return s.root }

// Save writes content to <root>/<key>.
func (s *LocalStore) Save(_ context.Context, key string, content []byte, _ string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return p, nil
}

// EnsureLocal returns local paths unchanged.
func (s *LocalStore) EnsureLocal(_ context.Context, path string) (string, func(), error) {
	if IsRemote(path) {
		return "", noop, fmt.Errorf("%s: no S3 backend configured", path)
	}
	return path, noop, nil
}

// Delete removes the file. A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
