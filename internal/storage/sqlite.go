package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lecpa/docsync/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// busyTimeoutMillis is how long a connection waits on another process's write lock
const busyTimeoutMillis = 5000

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn(dbPath))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

func now() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Client operations

func (s *SQLiteStorage) createClientWithQuerier(ctx context.Context, q querier, client *types.Client) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO clients (id, client_code, name, client_type, nas_folder_path, approval_status, approved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, client.ID, client.ClientCode, client.Name, string(client.ClientType), nullString(client.NASFolderPath),
		client.ApprovalStatus, nullTime(client.ApprovedAt), ts, ts)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	client.CreatedAt = ts
	return nil
}

func (s *SQLiteStorage) CreateClient(ctx context.Context, client *types.Client) error {
	return s.createClientWithQuerier(ctx, s.querier(), client)
}

const clientColumns = `id, client_code, name, client_type, nas_folder_path, approval_status, approved_at, created_at`

func scanClient(row rowScanner) (*types.Client, error) {
	var c types.Client
	var clientType string
	var folder sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.ClientCode, &c.Name, &clientType, &folder, &c.ApprovalStatus, &approvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ClientType = types.ClientType(clientType)
	c.NASFolderPath = folder.String
	c.ApprovedAt = timePtr(approvedAt)
	return &c, nil
}

func (s *SQLiteStorage) getClientWithQuerier(ctx context.Context, q querier, column, value string) (*types.Client, error) {
	row := q.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE "+column+" = ?", value)
	c, err := scanClient(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, err
}

func (s *SQLiteStorage) GetClient(ctx context.Context, id string) (*types.Client, error) {
	return s.getClientWithQuerier(ctx, s.querier(), "id", id)
}

func (s *SQLiteStorage) GetClientByCode(ctx context.Context, code string) (*types.Client, error) {
	return s.getClientWithQuerier(ctx, s.querier(), "client_code", code)
}

// Case operations

func (s *SQLiteStorage) createCaseWithQuerier(ctx context.Context, q querier, c *types.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CaseType == "" {
		c.CaseType = "tax_return"
	}
	if c.Status == "" {
		c.Status = "intake"
	}
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO cases (id, client_id, tax_year, case_type, status, is_permanent, nas_year_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ClientID, c.TaxYear, c.CaseType, c.Status, boolInt(c.IsPermanent), nullString(c.NASYearPath), ts, ts)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	c.CreatedAt = ts
	return nil
}

func (s *SQLiteStorage) CreateCase(ctx context.Context, c *types.Case) error {
	return s.createCaseWithQuerier(ctx, s.querier(), c)
}

const caseColumns = `id, client_id, tax_year, case_type, status, is_permanent, nas_year_path, created_at`

func scanCase(row rowScanner) (*types.Case, error) {
	var c types.Case
	var permanent int
	var yearPath sql.NullString
	err := row.Scan(&c.ID, &c.ClientID, &c.TaxYear, &c.CaseType, &c.Status, &permanent, &yearPath, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan case: %w", err)
	}
	c.IsPermanent = permanent == 1
	c.NASYearPath = yearPath.String
	return &c, nil
}

func (s *SQLiteStorage) getCaseWithQuerier(ctx context.Context, q querier, id string) (*types.Case, error) {
	return scanCase(q.QueryRowContext(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = ?", id))
}

func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*types.Case, error) {
	return s.getCaseWithQuerier(ctx, s.querier(), id)
}

func (s *SQLiteStorage) findYearCaseWithQuerier(ctx context.Context, q querier, clientID string, year int) (*types.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE client_id = ? AND tax_year = ? AND is_permanent = 0
		ORDER BY created_at LIMIT 1
	`, clientID, year))
}

func (s *SQLiteStorage) FindYearCase(ctx context.Context, clientID string, year int) (*types.Case, error) {
	return s.findYearCaseWithQuerier(ctx, s.querier(), clientID, year)
}

func (s *SQLiteStorage) findPermanentCaseWithQuerier(ctx context.Context, q querier, clientID string) (*types.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE client_id = ? AND is_permanent = 1
		ORDER BY created_at LIMIT 1
	`, clientID))
}

func (s *SQLiteStorage) FindPermanentCase(ctx context.Context, clientID string) (*types.Case, error) {
	return s.findPermanentCaseWithQuerier(ctx, s.querier(), clientID)
}

// Document operations

func (s *SQLiteStorage) createDocumentWithQuerier(ctx context.Context, q querier, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = types.StatusPending
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	ts := now()
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (
			id, case_id, filename, original_filename, storage_key, mime_type, file_size, file_hash,
			processing_status, tags, is_permanent, folder_tag, nas_relative_path, source_path,
			last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.CaseID, doc.Filename, doc.OriginalFilename, doc.StorageKey, doc.MimeType, doc.FileSize,
		nullString(doc.FileHash), string(doc.Status), string(tags), boolInt(doc.IsPermanent),
		nullString(doc.FolderTag), nullString(doc.NASRelativePath), nullString(doc.SourcePath),
		nullTime(doc.LastSeenAt), ts, ts)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.CreatedAt = ts
	doc.UpdatedAt = ts
	return nil
}

func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *types.Document) error {
	return s.createDocumentWithQuerier(ctx, s.querier(), doc)
}

const documentColumns = `
	id, case_id, filename, original_filename, storage_key, mime_type, file_size, page_count, file_hash,
	processing_status, processing_error, is_ocr, embedding_model, embedding_dim, tags, is_permanent,
	folder_tag, nas_relative_path, source_path, deleted_at, retention_until, last_seen_at, created_at, updated_at`

func scanDocument(row rowScanner) (*types.Document, error) {
	var d types.Document
	var (
		pageCount, embeddingDim                             sql.NullInt64
		fileHash, procErr, model, folderTag, relPath, srcPath sql.NullString
		status, tags                                        string
		isOCR, permanent                                    int
		deletedAt, retention, lastSeen                      sql.NullTime
	)
	err := row.Scan(&d.ID, &d.CaseID, &d.Filename, &d.OriginalFilename, &d.StorageKey, &d.MimeType, &d.FileSize,
		&pageCount, &fileHash, &status, &procErr, &isOCR, &model, &embeddingDim, &tags, &permanent,
		&folderTag, &relPath, &srcPath, &deletedAt, &retention, &lastSeen, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	if pageCount.Valid {
		pc := int(pageCount.Int64)
		d.PageCount = &pc
	}
	d.FileHash = fileHash.String
	d.Status = types.ProcessingStatus(status)
	d.ProcessingError = procErr.String
	d.IsOCR = isOCR == 1
	d.EmbeddingModel = model.String
	d.EmbeddingDim = int(embeddingDim.Int64)
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	d.IsPermanent = permanent == 1
	d.FolderTag = folderTag.String
	d.NASRelativePath = relPath.String
	d.SourcePath = srcPath.String
	d.DeletedAt = timePtr(deletedAt)
	d.RetentionUntil = timePtr(retention)
	d.LastSeenAt = timePtr(lastSeen)
	return &d, nil
}

func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, column, value string) (*types.Document, error) {
	return scanDocument(q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE "+column+" = ?", value))
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), "id", id)
}

func (s *SQLiteStorage) GetDocumentBySourcePath(ctx context.Context, sourcePath string) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), "source_path", sourcePath)
}

func (s *SQLiteStorage) GetDocumentByHash(ctx context.Context, fileHash string) (*types.Document, error) {
	if fileHash == "" {
		return nil, ErrNotFound
	}
	return s.getDocumentWithQuerier(ctx, s.querier(), "file_hash", fileHash)
}

func (s *SQLiteStorage) listDocumentsWithQuerier(ctx context.Context, q querier, filter DocumentFilter) ([]*types.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE 1=1"
	var args []interface{}
	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.Status != "" {
		query += " AND processing_status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.CaseID != "" {
		query += " AND case_id = ?"
		args = append(args, filter.CaseID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*types.Document, error) {
	return s.listDocumentsWithQuerier(ctx, s.querier(), filter)
}

func (s *SQLiteStorage) queryIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) ListDocumentIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, s.querier(), "SELECT id FROM documents WHERE deleted_at IS NULL ORDER BY created_at")
}

func (s *SQLiteStorage) ListStaleEmbeddings(ctx context.Context, model string) ([]string, error) {
	return s.queryIDs(ctx, s.querier(), `
		SELECT id FROM documents
		WHERE deleted_at IS NULL AND processing_status = 'ready'
		  AND (embedding_model IS NULL OR embedding_model != ?)
		ORDER BY created_at
	`, model)
}

func (s *SQLiteStorage) execAffecting(ctx context.Context, q querier, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) touchDocumentWithQuerier(ctx context.Context, q querier, id string, seenAt time.Time) error {
	return s.execAffecting(ctx, q, "UPDATE documents SET last_seen_at = ?, updated_at = ? WHERE id = ?", seenAt.UTC(), now(), id)
}

func (s *SQLiteStorage) TouchDocument(ctx context.Context, id string, seenAt time.Time) error {
	return s.touchDocumentWithQuerier(ctx, s.querier(), id, seenAt)
}

func (s *SQLiteStorage) restoreDocumentWithQuerier(ctx context.Context, q querier, id string, seenAt time.Time) error {
	return s.execAffecting(ctx, q, `
		UPDATE documents SET deleted_at = NULL, retention_until = NULL, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`, seenAt.UTC(), now(), id)
}

func (s *SQLiteStorage) RestoreDocument(ctx context.Context, id string, seenAt time.Time) error {
	return s.restoreDocumentWithQuerier(ctx, s.querier(), id, seenAt)
}

// storage_key follows source_path only for documents read straight from the NAS
func (s *SQLiteStorage) relocateDocumentWithQuerier(ctx context.Context, q querier, id string, move Relocation) error {
	return s.execAffecting(ctx, q, `
		UPDATE documents
		SET storage_key = CASE WHEN storage_key = source_path THEN ? ELSE storage_key END,
		    source_path = ?, nas_relative_path = ?, filename = ?,
		    deleted_at = NULL, retention_until = NULL, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`, move.SourcePath, move.SourcePath, nullString(move.RelativePath), move.Filename, move.SeenAt.UTC(), now(), id)
}

func (s *SQLiteStorage) RelocateDocument(ctx context.Context, id string, move Relocation) error {
	return s.relocateDocumentWithQuerier(ctx, s.querier(), id, move)
}

func (s *SQLiteStorage) updateDocumentStatusWithQuerier(ctx context.Context, q querier, id string, status types.ProcessingStatus, processingError string) error {
	return s.execAffecting(ctx, q, `
		UPDATE documents SET processing_status = ?, processing_error = ?, updated_at = ?
		WHERE id = ?
	`, string(status), nullString(processingError), now(), id)
}

func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id string, status types.ProcessingStatus, processingError string) error {
	return s.updateDocumentStatusWithQuerier(ctx, s.querier(), id, status, processingError)
}

func (s *SQLiteStorage) completeDocumentWithQuerier(ctx context.Context, q querier, id string, c Completion) error {
	return s.execAffecting(ctx, q, `
		UPDATE documents
		SET processing_status = 'ready', processing_error = NULL, page_count = ?, is_ocr = ?,
		    embedding_model = ?, embedding_dim = ?, updated_at = ?
		WHERE id = ?
	`, c.PageCount, boolInt(c.IsOCR), c.EmbeddingModel, c.EmbeddingDim, now(), id)
}

func (s *SQLiteStorage) CompleteDocument(ctx context.Context, id string, c Completion) error {
	return s.completeDocumentWithQuerier(ctx, s.querier(), id, c)
}

func (s *SQLiteStorage) softDeleteDocumentWithQuerier(ctx context.Context, q querier, id string, deletedAt, retentionUntil time.Time) error {
	return s.execAffecting(ctx, q, `
		UPDATE documents SET deleted_at = ?, retention_until = ?, updated_at = ?
		WHERE id = ?
	`, deletedAt.UTC(), retentionUntil.UTC(), now(), id)
}

func (s *SQLiteStorage) SoftDeleteDocument(ctx context.Context, id string, deletedAt, retentionUntil time.Time) error {
	return s.softDeleteDocumentWithQuerier(ctx, s.querier(), id, deletedAt, retentionUntil)
}

func (s *SQLiteStorage) purgeDeletedDocumentsWithQuerier(ctx context.Context, q querier, before time.Time) (int, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM documents
		WHERE deleted_at IS NOT NULL AND retention_until IS NOT NULL AND retention_until <= ?
	`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) PurgeDeletedDocuments(ctx context.Context, before time.Time) (int, error) {
	return s.purgeDeletedDocumentsWithQuerier(ctx, s.querier(), before)
}

// Chunk operations

// replaceChunksWithQuerier deletes a document's chunks and inserts the new set.
// Running it twice for the same document leaves exactly one chunk set.
func (s *SQLiteStorage) replaceChunksWithQuerier(ctx context.Context, q querier, documentID string, chunks []*types.Chunk) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	ts := now()
	for i, c := range chunks {
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk index %d at position %d: indices must be dense and ordered", c.ChunkIndex, i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid chunk %d: %w", i, err)
		}
		var embedding interface{}
		if len(c.Embedding) > 0 {
			embedding = serializeVector(c.Embedding)
		}
		result, err := q.ExecContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, content, page_start, page_end, token_count,
			                    section_header, is_ocr, embedding, embedding_model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, documentID, c.ChunkIndex, c.Content, c.PageStart, c.PageEnd, c.TokenCount,
			nullString(c.SectionHeader), boolInt(c.IsOCR), embedding, nullString(c.EmbeddingModel), ts)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
		c.DocumentID = documentID
		c.CreatedAt = ts
	}
	return nil
}

func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, documentID string, chunks []*types.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := s.replaceChunksWithQuerier(ctx, tx, documentID, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) listChunksWithQuerier(ctx context.Context, q querier, documentID string) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, page_start, page_end, token_count,
		       section_header, is_ocr, embedding, embedding_model, created_at
		FROM chunks WHERE document_id = ?
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		var tokenCount sql.NullInt64
		var header, model sql.NullString
		var isOCR int
		var embedding []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.PageStart, &c.PageEnd,
			&tokenCount, &header, &isOCR, &embedding, &model, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.TokenCount = int(tokenCount.Int64)
		c.SectionHeader = header.String
		c.IsOCR = isOCR == 1
		if len(embedding) > 0 {
			c.Embedding = deserializeVector(embedding)
		}
		c.EmbeddingModel = model.String
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error) {
	return s.listChunksWithQuerier(ctx, s.querier(), documentID)
}

func (s *SQLiteStorage) SearchHybrid(ctx context.Context, query HybridQuery) ([]HybridResult, error) {
	return searchHybrid(ctx, s.querier(), query)
}

// Sync queue operations

func (s *SQLiteStorage) createQueueItemWithQuerier(ctx context.Context, q querier, item *types.SyncQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = types.QueuePending
	}
	if item.ParsedData == nil {
		item.ParsedData = map[string]any{}
	}
	data, err := json.Marshal(item.ParsedData)
	if err != nil {
		return fmt.Errorf("failed to encode parsed data: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sync_queue (id, item_type, nas_path, parsed_data, status, auto_approve_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, string(item.ItemType), item.NASPath, string(data), string(item.Status),
		nullTime(item.AutoApproveAt), item.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create queue item: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateQueueItem(ctx context.Context, item *types.SyncQueueItem) error {
	return s.createQueueItemWithQuerier(ctx, s.querier(), item)
}

const queueColumns = `id, item_type, nas_path, parsed_data, status, auto_approve_at, created_at, reviewed_at, reviewed_by, notes`

func scanQueueItem(row rowScanner) (*types.SyncQueueItem, error) {
	var item types.SyncQueueItem
	var itemType, data, status string
	var autoApprove, reviewedAt sql.NullTime
	var reviewedBy, notes sql.NullString
	err := row.Scan(&item.ID, &itemType, &item.NASPath, &data, &status, &autoApprove, &item.CreatedAt,
		&reviewedAt, &reviewedBy, &notes)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	item.ItemType = types.QueueItemType(itemType)
	item.Status = types.QueueStatus(status)
	if err := json.Unmarshal([]byte(data), &item.ParsedData); err != nil {
		return nil, fmt.Errorf("failed to decode parsed data: %w", err)
	}
	item.AutoApproveAt = timePtr(autoApprove)
	item.ReviewedAt = timePtr(reviewedAt)
	item.ReviewedBy = reviewedBy.String
	item.Notes = notes.String
	return &item, nil
}

func (s *SQLiteStorage) getQueueItemWithQuerier(ctx context.Context, q querier, column, value string) (*types.SyncQueueItem, error) {
	return scanQueueItem(q.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE "+column+" = ?", value))
}

func (s *SQLiteStorage) GetQueueItem(ctx context.Context, id string) (*types.SyncQueueItem, error) {
	return s.getQueueItemWithQuerier(ctx, s.querier(), "id", id)
}

func (s *SQLiteStorage) GetQueueItemByPath(ctx context.Context, nasPath string) (*types.SyncQueueItem, error) {
	return s.getQueueItemWithQuerier(ctx, s.querier(), "nas_path", nasPath)
}

func (s *SQLiteStorage) listQueueRows(ctx context.Context, q querier, query string, args ...interface{}) ([]*types.SyncQueueItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStorage) listQueueItemsWithQuerier(ctx context.Context, q querier, filter QueueFilter) ([]*types.SyncQueueItem, int, error) {
	where := ""
	var args []interface{}
	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count queue items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	items, err := s.listQueueRows(ctx, q,
		"SELECT "+queueColumns+" FROM sync_queue"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SQLiteStorage) ListQueueItems(ctx context.Context, filter QueueFilter) ([]*types.SyncQueueItem, int, error) {
	return s.listQueueItemsWithQuerier(ctx, s.querier(), filter)
}

func (s *SQLiteStorage) CountQueueItems(ctx context.Context, status types.QueueStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) listDueQueueItemsWithQuerier(ctx context.Context, q querier, at time.Time) ([]*types.SyncQueueItem, error) {
	// Clients sort before cases so a case approval finds its client
	return s.listQueueRows(ctx, q, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE status = 'pending' AND auto_approve_at IS NOT NULL AND auto_approve_at <= ?
		ORDER BY CASE item_type WHEN 'client' THEN 0 ELSE 1 END, created_at
	`, at.UTC())
}

func (s *SQLiteStorage) ListDueQueueItems(ctx context.Context, at time.Time) ([]*types.SyncQueueItem, error) {
	return s.listDueQueueItemsWithQuerier(ctx, s.querier(), at)
}

func (s *SQLiteStorage) reviewQueueItemWithQuerier(ctx context.Context, q querier, id string, r Review) error {
	result, err := q.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, reviewed_at = ?, reviewed_by = ?, notes = ?
		WHERE id = ? AND status = 'pending'
	`, string(r.Status), r.ReviewedAt.UTC(), nullString(r.ReviewedBy), nullString(r.Notes), id)
	if err != nil {
		return fmt.Errorf("failed to review queue item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.getQueueItemWithQuerier(ctx, q, "id", id); err != nil {
			return err
		}
		return ErrAlreadyReviewed
	}
	return nil
}

func (s *SQLiteStorage) ReviewQueueItem(ctx context.Context, id string, r Review) error {
	return s.reviewQueueItemWithQuerier(ctx, s.querier(), id, r)
}

// Relationship operations

func (s *SQLiteStorage) createRelationshipWithQuerier(ctx context.Context, q querier, rel *types.ClientRelationship) (bool, error) {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	if rel.RelationshipType == "" {
		rel.RelationshipType = "owner"
	}
	ts := now()
	result, err := q.ExecContext(ctx, `
		INSERT INTO client_relationships (id, individual_id, business_id, relationship_type, source, source_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(individual_id, business_id) DO NOTHING
	`, rel.ID, rel.IndividualID, rel.BusinessID, rel.RelationshipType, rel.Source, nullString(rel.SourcePath), ts)
	if err != nil {
		return false, fmt.Errorf("failed to create relationship: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		rel.CreatedAt = ts
	}
	return n == 1, nil
}

func (s *SQLiteStorage) CreateRelationship(ctx context.Context, rel *types.ClientRelationship) (bool, error) {
	return s.createRelationshipWithQuerier(ctx, s.querier(), rel)
}

// Extraction operations

func (s *SQLiteStorage) saveExtractionWithQuerier(ctx context.Context, q querier, ext *Extraction) error {
	if ext.ID == "" {
		ext.ID = uuid.New().String()
	}
	ext.CreatedAt = now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO document_extractions (id, document_id, document_type, provider, model, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			document_type = excluded.document_type,
			provider = excluded.provider,
			model = excluded.model,
			content = excluded.content,
			created_at = excluded.created_at
	`, ext.ID, ext.DocumentID, ext.DocumentType, nullString(ext.Provider), nullString(ext.Model), ext.Content, ext.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SaveExtraction(ctx context.Context, ext *Extraction) error {
	return s.saveExtractionWithQuerier(ctx, s.querier(), ext)
}

func (s *SQLiteStorage) GetExtraction(ctx context.Context, documentID string) (*Extraction, error) {
	var ext Extraction
	var provider, model sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, document_type, provider, model, content, created_at
		FROM document_extractions WHERE document_id = ?
	`, documentID).Scan(&ext.ID, &ext.DocumentID, &ext.DocumentType, &provider, &model, &ext.Content, &ext.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	ext.Provider = provider.String
	ext.Model = model.String
	return &ext, nil
}

// Status operations

func (s *SQLiteStorage) GetSyncStats(ctx context.Context, dayStart time.Time) (*SyncStats, error) {
	day := dayStart.UTC()
	var stats SyncStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'),
			(SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL
				AND processing_status NOT IN ('ready', 'failed')),
			(SELECT COUNT(*) FROM documents WHERE processing_status = 'failed' AND updated_at >= ?),
			(SELECT COUNT(*) FROM documents WHERE created_at >= ?),
			(SELECT COUNT(*) FROM documents WHERE processing_status = 'ready' AND updated_at >= ?)
	`, day, day, day).Scan(&stats.PendingApproval, &stats.Processing, &stats.FailedToday,
		&stats.FilesDetectedToday, &stats.FilesProcessedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}
	return &stats, nil
}

// Transaction operations delegate to the querier-based implementations

func (t *sqliteTx) CreateClient(ctx context.Context, client *types.Client) error {
	return t.storage.createClientWithQuerier(ctx, t.querier(), client)
}

func (t *sqliteTx) GetClientByCode(ctx context.Context, code string) (*types.Client, error) {
	return t.storage.getClientWithQuerier(ctx, t.querier(), "client_code", code)
}

func (t *sqliteTx) CreateCase(ctx context.Context, c *types.Case) error {
	return t.storage.createCaseWithQuerier(ctx, t.querier(), c)
}

func (t *sqliteTx) FindYearCase(ctx context.Context, clientID string, year int) (*types.Case, error) {
	return t.storage.findYearCaseWithQuerier(ctx, t.querier(), clientID, year)
}

func (t *sqliteTx) FindPermanentCase(ctx context.Context, clientID string) (*types.Case, error) {
	return t.storage.findPermanentCaseWithQuerier(ctx, t.querier(), clientID)
}

func (t *sqliteTx) GetQueueItem(ctx context.Context, id string) (*types.SyncQueueItem, error) {
	return t.storage.getQueueItemWithQuerier(ctx, t.querier(), "id", id)
}

func (t *sqliteTx) ReviewQueueItem(ctx context.Context, id string, r Review) error {
	return t.storage.reviewQueueItemWithQuerier(ctx, t.querier(), id, r)
}

func (t *sqliteTx) CreateRelationship(ctx context.Context, rel *types.ClientRelationship) (bool, error) {
	return t.storage.createRelationshipWithQuerier(ctx, t.querier(), rel)
}
