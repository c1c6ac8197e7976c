package postgres

// schema is applied on open. Every statement is idempotent.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS clients (
    id TEXT PRIMARY KEY,
    client_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    client_type TEXT NOT NULL DEFAULT 'individual',
    nas_folder_path TEXT,
    approval_status TEXT NOT NULL DEFAULT 'approved',
    approved_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    tax_year INTEGER NOT NULL,
    case_type TEXT NOT NULL DEFAULT 'tax_return',
    status TEXT NOT NULL DEFAULT 'intake',
    is_permanent BOOLEAN NOT NULL DEFAULT false,
    nas_year_path TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cases_client_year ON cases(client_id, tax_year);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_permanent ON cases(client_id) WHERE is_permanent;

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    filename TEXT NOT NULL,
    original_filename TEXT NOT NULL,
    storage_key TEXT NOT NULL UNIQUE,
    mime_type TEXT NOT NULL,
    file_size BIGINT NOT NULL DEFAULT 0,
    page_count INTEGER,
    file_hash TEXT,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    processing_error TEXT,
    is_ocr BOOLEAN NOT NULL DEFAULT false,
    embedding_model TEXT,
    embedding_dim INTEGER,
    tags TEXT[] NOT NULL DEFAULT '{}',
    is_permanent BOOLEAN NOT NULL DEFAULT false,
    folder_tag TEXT,
    nas_relative_path TEXT,
    source_path TEXT,
    deleted_at TIMESTAMPTZ,
    retention_until TIMESTAMPTZ,
    last_seen_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_source_path
    ON documents(source_path) WHERE source_path IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_file_hash
    ON documents(file_hash) WHERE file_hash IS NOT NULL AND file_hash <> '';

CREATE TABLE IF NOT EXISTS document_chunks (
    id BIGSERIAL PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    page_start INTEGER NOT NULL,
    page_end INTEGER NOT NULL,
    token_count INTEGER,
    section_header TEXT,
    is_ocr BOOLEAN NOT NULL DEFAULT false,
    embedding vector,
    embedding_model TEXT,
    search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (document_id, chunk_index),
    CHECK (page_start <= page_end)
);

CREATE INDEX IF NOT EXISTS idx_chunks_search_vector ON document_chunks USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    item_type TEXT NOT NULL,
    nas_path TEXT NOT NULL UNIQUE,
    parsed_data JSONB NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    auto_approve_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    reviewed_at TIMESTAMPTZ,
    reviewed_by TEXT,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);

CREATE TABLE IF NOT EXISTS client_relationships (
    id TEXT PRIMARY KEY,
    individual_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    business_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    relationship_type TEXT NOT NULL DEFAULT 'owner',
    source TEXT NOT NULL,
    source_path TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (individual_id, business_id)
);

CREATE TABLE IF NOT EXISTS document_extractions (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
    document_type TEXT NOT NULL,
    provider TEXT,
    model TEXT,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
