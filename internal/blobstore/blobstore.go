// Package blobstore stores document bytes on the local filesystem or in S3.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lecpa/docsync/internal/config"
)

// ErrNotFound is returned when no object exists under a key
var ErrNotFound = errors.New("blob not found")

// Store interface for document byte storage
type Store interface {
	// Upload stores data under key, replacing any existing object
	Upload(ctx context.Context, key string, data io.Reader) error

	// Download retrieves the object stored under key
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Type represents the storage backend type
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// New creates a store based on configuration
func New(cfg config.StorageConfig) (Store, error) {
	switch Type(cfg.Type) {
	case TypeLocal, "":
		return NewLocal(cfg.LocalPath)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("storage.s3_bucket is required for S3 storage")
		}
		return NewS3(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// UploadKey is where a directly uploaded document is stored
func UploadKey(caseID, documentID, filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("documents/%s/%s.%s", caseID, documentID, ext)
}

// ContentType determines content type from filename
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// Localizer is implemented by stores whose objects already live on disk
type Localizer interface {
	LocalPath(key string) (string, error)
}

// Materialize returns a filesystem path holding the object under key, for
// tools that need a file rather than a stream. Local objects are returned in
// place; others are copied into tempDir. The cleanup func removes any copy.
func Materialize(ctx context.Context, store Store, key, tempDir string) (string, func(), error) {
	if l, ok := store.(Localizer); ok {
		path, err := l.LocalPath(key)
		if err != nil {
			return "", nil, err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", nil, fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return "", nil, err
		}
		return path, func() {}, nil
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = rc.Close() }()

	f, err := os.CreateTemp(tempDir, "docsync-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
