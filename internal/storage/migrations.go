package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.3.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
	{
		Version: "1.3.0",
		Up:      migrationV13Up,
		Down:    migrationV13Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS clients (
    id TEXT PRIMARY KEY,
    client_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    client_type TEXT NOT NULL DEFAULT 'individual',
    nas_folder_path TEXT,
    approval_status TEXT NOT NULL DEFAULT 'approved',
    approved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    tax_year INTEGER NOT NULL,
    case_type TEXT NOT NULL DEFAULT 'tax_return',
    status TEXT NOT NULL DEFAULT 'intake',
    is_permanent INTEGER NOT NULL DEFAULT 0,
    nas_year_path TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cases_client_year ON cases(client_id, tax_year);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    original_filename TEXT NOT NULL,
    storage_key TEXT NOT NULL UNIQUE,
    mime_type TEXT NOT NULL,
    file_size INTEGER NOT NULL DEFAULT 0,
    page_count INTEGER,
    file_hash TEXT,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    processing_error TEXT,
    is_ocr INTEGER NOT NULL DEFAULT 0,
    embedding_model TEXT,
    embedding_dim INTEGER,
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    page_start INTEGER NOT NULL,
    page_end INTEGER NOT NULL,
    token_count INTEGER,
    section_header TEXT,
    is_ocr INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    embedding_model TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
    UNIQUE(document_id, chunk_index),
    CHECK (page_start <= page_end)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

-- FTS5 virtual table for lexical search over chunk content
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    section_header,
    content='chunks',
    content_rowid='id'
);

-- Triggers to keep FTS index in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content, section_header)
    VALUES (new.id, new.content, new.section_header);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, section_header)
    VALUES ('delete', old.id, old.content, old.section_header);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, section_header)
    VALUES ('delete', old.id, old.content, old.section_header);
    INSERT INTO chunks_fts(rowid, content, section_header)
    VALUES (new.id, new.content, new.section_header);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS chunks_au;
DROP TRIGGER IF EXISTS chunks_ad;
DROP TRIGGER IF EXISTS chunks_ai;

DROP TABLE IF EXISTS chunks_fts;
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS cases;
DROP TABLE IF EXISTS clients;
DROP TABLE IF EXISTS schema_version;
`

// NAS sync: document provenance, soft delete, approval queue, relationships
const migrationV11Up = `
ALTER TABLE documents ADD COLUMN is_permanent INTEGER NOT NULL DEFAULT 0;
ALTER TABLE documents ADD COLUMN folder_tag TEXT;
ALTER TABLE documents ADD COLUMN nas_relative_path TEXT;
ALTER TABLE documents ADD COLUMN source_path TEXT;
ALTER TABLE documents ADD COLUMN deleted_at TIMESTAMP;
ALTER TABLE documents ADD COLUMN retention_until TIMESTAMP;
ALTER TABLE documents ADD COLUMN last_seen_at TIMESTAMP;

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_source_path
    ON documents(source_path) WHERE source_path IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_file_hash
    ON documents(file_hash) WHERE file_hash IS NOT NULL AND file_hash != '';

CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    item_type TEXT NOT NULL,
    nas_path TEXT NOT NULL UNIQUE,
    parsed_data TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    auto_approve_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    reviewed_at TIMESTAMP,
    reviewed_by TEXT,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue(created_at);

CREATE TABLE IF NOT EXISTS client_relationships (
    id TEXT PRIMARY KEY,
    individual_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL DEFAULT 'owner',
    source TEXT NOT NULL,
    source_path TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (individual_id) REFERENCES clients(id) ON DELETE CASCADE,
    FOREIGN KEY (business_id) REFERENCES clients(id) ON DELETE CASCADE,
    UNIQUE(individual_id, business_id)
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS client_relationships;
DROP TABLE IF EXISTS sync_queue;
DROP INDEX IF EXISTS idx_documents_file_hash;
DROP INDEX IF EXISTS idx_documents_source_path;
ALTER TABLE documents DROP COLUMN last_seen_at;
ALTER TABLE documents DROP COLUMN retention_until;
ALTER TABLE documents DROP COLUMN deleted_at;
ALTER TABLE documents DROP COLUMN source_path;
ALTER TABLE documents DROP COLUMN nas_relative_path;
ALTER TABLE documents DROP COLUMN folder_tag;
ALTER TABLE documents DROP COLUMN is_permanent;
`

// Field extraction results
const migrationV12Up = `
CREATE TABLE IF NOT EXISTS document_extractions (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL UNIQUE,
    document_type TEXT NOT NULL,
    provider TEXT,
    model TEXT,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
`

const migrationV12Down = `
DROP TABLE IF EXISTS document_extractions;
`

// One permanent case per client
const migrationV13Up = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_permanent ON cases(client_id) WHERE is_permanent = 1;
`

const migrationV13Down = `
DROP INDEX IF EXISTS idx_cases_permanent;
`

// currentVersion returns the highest applied version, or 0.0.0 on a fresh database
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(current) {
			current = parsed
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	version := current.Original()

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == version {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", version)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", version, err)
	}

	// The base migration drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", version, err)
	}

	return nil
}
