package syncclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/lecpa/docsync/pkg/types"
)

// HashPrefix marks the digest algorithm on the wire
const HashPrefix = "sha256:"

// HashFile returns the "sha256:<hex>" digest of the file at path
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// NewFileArrived builds the arrival event for a parsed file, reading its
// size, modification time and content hash from disk
func NewFileArrived(path string, parsed types.ParsedPath) (types.FileArrivedRequest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.FileArrivedRequest{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return types.FileArrivedRequest{}, fmt.Errorf("%s is a directory", path)
	}
	hash, err := HashFile(path)
	if err != nil {
		return types.FileArrivedRequest{}, err
	}
	return types.FileArrivedRequest{
		NASPath:      path,
		FileSize:     info.Size(),
		FileHash:     hash,
		ModifiedTime: info.ModTime().UTC(),
		ParsedInfo:   parsed,
	}, nil
}
