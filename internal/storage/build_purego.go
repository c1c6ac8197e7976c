//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build. Vector similarity runs in Go (vector_ops.go), which is fast
// enough for one firm's document set; CGO_ENABLED=0 builds work on the NAS.

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable selects SQL-side cosine distance in HybridSearch
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// dsn sets pragmas through modernc's _pragma parameters, which apply to every
// pooled connection
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_txlock=immediate", path, busyTimeoutMillis)
}
