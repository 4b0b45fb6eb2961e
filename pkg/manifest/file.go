package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the manifest in a local file. The generation is the SHA-256
// of the contents; writes go through a temp file and rename so readers never
// observe a partial manifest. Conditional writes are only serialized within
// one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store for the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read returns the file contents.
func (s *FileStore) Read(_ context.Context) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*Blob, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", s.path, err)
	}
	return &Blob{Data: data, Generation: contentGeneration(data)}, nil
}

// Write replaces the file if its contents still match ifGeneration.
func (s *FileStore) Write(_ context.Context, data []byte, ifGeneration string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	switch {
	case errors.Is(err, ErrBlobNotFound):
		if ifGeneration != "" {
			return "", ErrPreconditionFailed
		}
	case err != nil:
		return "", err
	case current.Generation != ifGeneration:
		return "", ErrPreconditionFailed
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".manifest-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return "", fmt.Errorf("failed to replace manifest file: %w", err)
	}

	return contentGeneration(data), nil
}

// Location returns the file:// URI of the store.
func (s *FileStore) Location() string {
	return "file://" + s.path
}

func contentGeneration(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
