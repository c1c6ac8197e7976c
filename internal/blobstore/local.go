package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local implements Store on the local filesystem. NAS documents are stored
// under their absolute path with a base of "/".
type Local struct {
	basePath string
}

// NewLocal creates a new local storage instance
func NewLocal(basePath string) (*Local, error) {
	if basePath == "" {
		basePath = "/"
	}
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{basePath: filepath.Clean(basePath)}, nil
}

// LocalPath maps a key to its file, rejecting keys that escape the base path
func (s *Local) LocalPath(key string) (string, error) {
	full := filepath.Join(s.basePath, key)
	if s.basePath != string(filepath.Separator) {
		rel, err := filepath.Rel(s.basePath, full)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("invalid storage key: %s", key)
		}
	}
	return full, nil
}

// Upload stores a file locally
func (s *Local) Upload(ctx context.Context, key string, data io.Reader) error {
	fullPath, err := s.LocalPath(key)
	if err != nil {
		return err
	}

	// Create directory structure
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(file, data); err != nil {
		_ = file.Close()
		_ = os.Remove(fullPath) // Clean up on error
		return fmt.Errorf("failed to write file: %w", err)
	}
	return file.Close()
}

// Download retrieves a file from local storage
func (s *Local) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.LocalPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a file from local storage
func (s *Local) Delete(ctx context.Context, key string) error {
	fullPath, err := s.LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
