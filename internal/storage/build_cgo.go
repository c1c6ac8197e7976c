//go:build sqlite_vec
// +build sqlite_vec

package storage

// Built with CGO_ENABLED=1 -tags "sqlite_vec,fts5" for deployments where the
// server and the MCP process share one database file on the same host.

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable selects SQL-side cosine distance in HybridSearch
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// dsn adds a busy timeout so a second process waits for the writer lock
// instead of failing with SQLITE_BUSY
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMillis)
}
