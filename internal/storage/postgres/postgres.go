// Package postgres implements storage.Storage on PostgreSQL with pgvector
// for embeddings and a generated tsvector column for lexical ranking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store handles database operations against PostgreSQL
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

var _ storage.Storage = (*Store)(nil)

// New connects to PostgreSQL, enables pgvector and applies the schema
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{pool: pool, q: pool}, nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type pgTx struct {
	*Store
	tx pgx.Tx
}

func (t *pgTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// BeginTx starts a transaction whose operations share one connection
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{Store: &Store{q: tx}, tx: tx}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatVector formats an embedding vector as a pgvector literal
func formatVector(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector reads the text form of a pgvector value
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", f, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// Clients

func (s *Store) CreateClient(ctx context.Context, client *types.Client) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO clients (id, client_code, name, client_type, nas_folder_path, approval_status, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		client.ID, client.ClientCode, client.Name, string(client.ClientType),
		optString(client.NASFolderPath), client.ApprovalStatus, client.ApprovedAt,
	).Scan(&client.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

const clientColumns = `id, client_code, name, client_type, nas_folder_path, approval_status, approved_at, created_at`

func scanClient(row pgx.Row) (*types.Client, error) {
	var c types.Client
	var clientType string
	var folder *string
	if err := row.Scan(&c.ID, &c.ClientCode, &c.Name, &clientType, &folder, &c.ApprovalStatus, &c.ApprovedAt, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	c.ClientType = types.ClientType(clientType)
	c.NASFolderPath = deref(folder)
	return &c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*types.Client, error) {
	return scanClient(s.q.QueryRow(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = $1", id))
}

func (s *Store) GetClientByCode(ctx context.Context, code string) (*types.Client, error) {
	return scanClient(s.q.QueryRow(ctx, "SELECT "+clientColumns+" FROM clients WHERE client_code = $1", code))
}

// Cases

func (s *Store) CreateCase(ctx context.Context, c *types.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CaseType == "" {
		c.CaseType = "tax_return"
	}
	if c.Status == "" {
		c.Status = "intake"
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO cases (id, client_id, tax_year, case_type, status, is_permanent, nas_year_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		c.ID, c.ClientID, c.TaxYear, c.CaseType, c.Status, c.IsPermanent, optString(c.NASYearPath),
	).Scan(&c.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

const caseColumns = `id, client_id, tax_year, case_type, status, is_permanent, nas_year_path, created_at`

func scanCase(row pgx.Row) (*types.Case, error) {
	var c types.Case
	var yearPath *string
	if err := row.Scan(&c.ID, &c.ClientID, &c.TaxYear, &c.CaseType, &c.Status, &c.IsPermanent, &yearPath, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	c.NASYearPath = deref(yearPath)
	return &c, nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*types.Case, error) {
	return scanCase(s.q.QueryRow(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = $1", id))
}

func (s *Store) FindYearCase(ctx context.Context, clientID string, year int) (*types.Case, error) {
	return scanCase(s.q.QueryRow(ctx, "SELECT "+caseColumns+` FROM cases
		WHERE client_id = $1 AND tax_year = $2 AND NOT is_permanent
		ORDER BY created_at LIMIT 1`, clientID, year))
}

func (s *Store) FindPermanentCase(ctx context.Context, clientID string) (*types.Case, error) {
	return scanCase(s.q.QueryRow(ctx, "SELECT "+caseColumns+` FROM cases
		WHERE client_id = $1 AND is_permanent
		ORDER BY created_at LIMIT 1`, clientID))
}

// Documents

func (s *Store) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = types.StatusPending
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO documents (
			id, case_id, filename, original_filename, storage_key, mime_type, file_size, file_hash,
			processing_status, tags, is_permanent, folder_tag, nas_relative_path, source_path, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		doc.ID, doc.CaseID, doc.Filename, doc.OriginalFilename, doc.StorageKey, doc.MimeType, doc.FileSize,
		optString(doc.FileHash), string(doc.Status), doc.Tags, doc.IsPermanent, optString(doc.FolderTag),
		optString(doc.NASRelativePath), optString(doc.SourcePath), doc.LastSeenAt,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

const documentColumns = `
	id, case_id, filename, original_filename, storage_key, mime_type, file_size, page_count, file_hash,
	processing_status, processing_error, is_ocr, embedding_model, embedding_dim, tags, is_permanent,
	folder_tag, nas_relative_path, source_path, deleted_at, retention_until, last_seen_at, created_at, updated_at`

func scanDocument(row pgx.Row) (*types.Document, error) {
	var d types.Document
	var (
		fileHash, procErr, model, folderTag, relPath, srcPath *string
		embeddingDim                                          *int
		status                                                string
	)
	err := row.Scan(&d.ID, &d.CaseID, &d.Filename, &d.OriginalFilename, &d.StorageKey, &d.MimeType, &d.FileSize,
		&d.PageCount, &fileHash, &status, &procErr, &d.IsOCR, &model, &embeddingDim, &d.Tags, &d.IsPermanent,
		&folderTag, &relPath, &srcPath, &d.DeletedAt, &d.RetentionUntil, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.FileHash = deref(fileHash)
	d.Status = types.ProcessingStatus(status)
	d.ProcessingError = deref(procErr)
	d.EmbeddingModel = deref(model)
	if embeddingDim != nil {
		d.EmbeddingDim = *embeddingDim
	}
	d.FolderTag = deref(folderTag)
	d.NASRelativePath = deref(relPath)
	d.SourcePath = deref(srcPath)
	return &d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return scanDocument(s.q.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id))
}

func (s *Store) GetDocumentBySourcePath(ctx context.Context, sourcePath string) (*types.Document, error) {
	return scanDocument(s.q.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE source_path = $1", sourcePath))
}

func (s *Store) GetDocumentByHash(ctx context.Context, fileHash string) (*types.Document, error) {
	if fileHash == "" {
		return nil, storage.ErrNotFound
	}
	return scanDocument(s.q.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE file_hash = $1", fileHash))
}

func (s *Store) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*types.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE true"
	var args []any
	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND processing_status = $%d", len(args))
	}
	if filter.CaseID != "" {
		args = append(args, filter.CaseID)
		query += fmt.Sprintf(" AND case_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListDocumentIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, "SELECT id FROM documents WHERE deleted_at IS NULL ORDER BY created_at")
}

func (s *Store) ListStaleEmbeddings(ctx context.Context, model string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM documents
		WHERE deleted_at IS NULL AND processing_status = 'ready'
		  AND embedding_model IS DISTINCT FROM $1
		ORDER BY created_at`, model)
}

func (s *Store) execAffecting(ctx context.Context, query string, args ...any) error {
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchDocument(ctx context.Context, id string, seenAt time.Time) error {
	return s.execAffecting(ctx, "UPDATE documents SET last_seen_at = $1, updated_at = now() WHERE id = $2", seenAt, id)
}

func (s *Store) RestoreDocument(ctx context.Context, id string, seenAt time.Time) error {
	return s.execAffecting(ctx, `
		UPDATE documents SET deleted_at = NULL, retention_until = NULL, last_seen_at = $1, updated_at = now()
		WHERE id = $2`, seenAt, id)
}

func (s *Store) RelocateDocument(ctx context.Context, id string, move storage.Relocation) error {
	return s.execAffecting(ctx, `
		UPDATE documents
		SET storage_key = CASE WHEN storage_key = source_path THEN $1 ELSE storage_key END,
		    source_path = $1, nas_relative_path = $2, filename = $3,
		    deleted_at = NULL, retention_until = NULL, last_seen_at = $4, updated_at = now()
		WHERE id = $5`, move.SourcePath, optString(move.RelativePath), move.Filename, move.SeenAt, id)
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status types.ProcessingStatus, processingError string) error {
	return s.execAffecting(ctx, `
		UPDATE documents SET processing_status = $1, processing_error = $2, updated_at = now()
		WHERE id = $3`, string(status), optString(processingError), id)
}

func (s *Store) CompleteDocument(ctx context.Context, id string, c storage.Completion) error {
	return s.execAffecting(ctx, `
		UPDATE documents
		SET processing_status = 'ready', processing_error = NULL, page_count = $1, is_ocr = $2,
		    embedding_model = $3, embedding_dim = $4, updated_at = now()
		WHERE id = $5`, c.PageCount, c.IsOCR, c.EmbeddingModel, c.EmbeddingDim, id)
}

func (s *Store) SoftDeleteDocument(ctx context.Context, id string, deletedAt, retentionUntil time.Time) error {
	return s.execAffecting(ctx, `
		UPDATE documents SET deleted_at = $1, retention_until = $2, updated_at = now()
		WHERE id = $3`, deletedAt, retentionUntil, id)
}

func (s *Store) PurgeDeletedDocuments(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM documents
		WHERE deleted_at IS NOT NULL AND retention_until IS NOT NULL AND retention_until <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Chunks

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []*types.Chunk) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		for i, c := range chunks {
			if c.ChunkIndex != i {
				return fmt.Errorf("chunk index %d at position %d: indices must be dense and ordered", c.ChunkIndex, i)
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid chunk %d: %w", i, err)
			}
			var embedding *string
			if len(c.Embedding) > 0 {
				v := formatVector(c.Embedding)
				embedding = &v
			}
			err := tx.QueryRow(ctx, `
				INSERT INTO document_chunks (document_id, chunk_index, content, page_start, page_end,
				                             token_count, section_header, is_ocr, embedding, embedding_model)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector, $10)
				RETURNING id, created_at`,
				documentID, c.ChunkIndex, c.Content, c.PageStart, c.PageEnd, c.TokenCount,
				optString(c.SectionHeader), c.IsOCR, embedding, optString(c.EmbeddingModel),
			).Scan(&c.ID, &c.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
			c.DocumentID = documentID
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, document_id, chunk_index, content, page_start, page_end, token_count,
		       section_header, is_ocr, embedding::text, embedding_model, created_at
		FROM document_chunks WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		var tokenCount *int
		var header, embedding, model *string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.PageStart, &c.PageEnd,
			&tokenCount, &header, &c.IsOCR, &embedding, &model, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if tokenCount != nil {
			c.TokenCount = *tokenCount
		}
		c.SectionHeader = deref(header)
		c.EmbeddingModel = deref(model)
		if embedding != nil {
			if c.Embedding, err = parseVector(*embedding); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// SearchHybrid ranks eligible chunks by cosine similarity and ts_rank
func (s *Store) SearchHybrid(ctx context.Context, query storage.HybridQuery) ([]storage.HybridResult, error) {
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if query.Limit <= 0 {
		return []storage.HybridResult{}, nil
	}

	args := []any{formatVector(query.Vector), query.Text, len(query.Vector), query.VectorWeight, query.TextWeight}
	sqlQuery := `
		SELECT c.id AS chunk_id, d.id AS document_id, d.filename, c.content, c.page_start, c.page_end,
		       (1 - (c.embedding <=> $1::vector))::float8 AS vector_score,
		       CASE WHEN $2::text = '' THEN 0
		            ELSE ts_rank(c.search_vector, plainto_tsquery('english', $2::text)) END::float8 AS text_score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		JOIN cases cs ON cs.id = d.case_id
		JOIN clients cl ON cl.id = cs.client_id
		WHERE d.processing_status = 'ready'
		  AND d.deleted_at IS NULL
		  AND c.embedding IS NOT NULL
		  AND vector_dims(c.embedding) = $3`

	if f := query.Filters; f != nil {
		if f.CaseID != "" {
			args = append(args, f.CaseID)
			sqlQuery += fmt.Sprintf(" AND d.case_id = $%d", len(args))
		}
		if f.ClientCode != "" {
			args = append(args, f.ClientCode)
			sqlQuery += fmt.Sprintf(" AND cl.client_code = $%d", len(args))
		}
		if len(f.Tags) > 0 {
			args = append(args, f.Tags)
			sqlQuery += fmt.Sprintf(" AND d.tags && $%d::text[]", len(args))
		}
	}

	args = append(args, query.Limit)
	sqlQuery = `SELECT *, vector_score * $4 + text_score * $5 AS score FROM (` + sqlQuery + `) ranked
		ORDER BY score DESC, chunk_id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.q.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute hybrid search: %w", err)
	}
	defer rows.Close()

	results := make([]storage.HybridResult, 0, query.Limit)
	for rows.Next() {
		var r storage.HybridResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Filename, &r.Content, &r.PageStart, &r.PageEnd,
			&r.VectorScore, &r.TextScore, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Sync queue

func (s *Store) CreateQueueItem(ctx context.Context, item *types.SyncQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = types.QueuePending
	}
	if item.ParsedData == nil {
		item.ParsedData = map[string]any{}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_queue (id, item_type, nas_path, parsed_data, status, auto_approve_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, string(item.ItemType), item.NASPath, item.ParsedData, string(item.Status),
		item.AutoApproveAt, item.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create queue item: %w", err)
	}
	return nil
}

const queueColumns = `id, item_type, nas_path, parsed_data, status, auto_approve_at, created_at, reviewed_at, reviewed_by, notes`

func scanQueueItem(row pgx.Row) (*types.SyncQueueItem, error) {
	var item types.SyncQueueItem
	var itemType, status string
	var reviewedBy, notes *string
	if err := row.Scan(&item.ID, &itemType, &item.NASPath, &item.ParsedData, &status, &item.AutoApproveAt,
		&item.CreatedAt, &item.ReviewedAt, &reviewedBy, &notes); err != nil {
		return nil, notFound(err)
	}
	item.ItemType = types.QueueItemType(itemType)
	item.Status = types.QueueStatus(status)
	item.ReviewedBy = deref(reviewedBy)
	item.Notes = deref(notes)
	return &item, nil
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*types.SyncQueueItem, error) {
	return scanQueueItem(s.q.QueryRow(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE id = $1", id))
}

func (s *Store) GetQueueItemByPath(ctx context.Context, nasPath string) (*types.SyncQueueItem, error) {
	return scanQueueItem(s.q.QueryRow(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE nas_path = $1", nasPath))
}

func (s *Store) listQueueRows(ctx context.Context, query string, args ...any) ([]*types.SyncQueueItem, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*types.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListQueueItems(ctx context.Context, filter storage.QueueFilter) ([]*types.SyncQueueItem, int, error) {
	where := ""
	var args []any
	if filter.Status != "" {
		where = " WHERE status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM sync_queue"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count queue items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	items, err := s.listQueueRows(ctx, fmt.Sprintf("SELECT %s FROM sync_queue%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		queueColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) CountQueueItems(ctx context.Context, status types.QueueStatus) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM sync_queue WHERE status = $1", string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

func (s *Store) ListDueQueueItems(ctx context.Context, at time.Time) ([]*types.SyncQueueItem, error) {
	return s.listQueueRows(ctx, "SELECT "+queueColumns+` FROM sync_queue
		WHERE status = 'pending' AND auto_approve_at IS NOT NULL AND auto_approve_at <= $1
		ORDER BY CASE item_type WHEN 'client' THEN 0 ELSE 1 END, created_at`, at)
}

func (s *Store) ReviewQueueItem(ctx context.Context, id string, r storage.Review) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE sync_queue SET status = $1, reviewed_at = $2, reviewed_by = $3, notes = $4
		WHERE id = $5 AND status = 'pending'`,
		string(r.Status), r.ReviewedAt, optString(r.ReviewedBy), optString(r.Notes), id)
	if err != nil {
		return fmt.Errorf("failed to review queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
		return storage.ErrAlreadyReviewed
	}
	return nil
}

// Relationships

func (s *Store) CreateRelationship(ctx context.Context, rel *types.ClientRelationship) (bool, error) {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	if rel.RelationshipType == "" {
		rel.RelationshipType = "owner"
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO client_relationships (id, individual_id, business_id, relationship_type, source, source_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (individual_id, business_id) DO NOTHING
		RETURNING created_at`,
		rel.ID, rel.IndividualID, rel.BusinessID, rel.RelationshipType, rel.Source, optString(rel.SourcePath),
	).Scan(&rel.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create relationship: %w", err)
	}
	return true, nil
}

// Extractions

func (s *Store) SaveExtraction(ctx context.Context, ext *storage.Extraction) error {
	if ext.ID == "" {
		ext.ID = uuid.New().String()
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO document_extractions (id, document_id, document_type, provider, model, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			content = EXCLUDED.content,
			created_at = now()
		RETURNING created_at`,
		ext.ID, ext.DocumentID, ext.DocumentType, optString(ext.Provider), optString(ext.Model), ext.Content,
	).Scan(&ext.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

func (s *Store) GetExtraction(ctx context.Context, documentID string) (*storage.Extraction, error) {
	var ext storage.Extraction
	var provider, model *string
	err := s.q.QueryRow(ctx, `
		SELECT id, document_id, document_type, provider, model, content, created_at
		FROM document_extractions WHERE document_id = $1`, documentID,
	).Scan(&ext.ID, &ext.DocumentID, &ext.DocumentType, &provider, &model, &ext.Content, &ext.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	ext.Provider = deref(provider)
	ext.Model = deref(model)
	return &ext, nil
}

// Status

func (s *Store) GetSyncStats(ctx context.Context, dayStart time.Time) (*storage.SyncStats, error) {
	var stats storage.SyncStats
	err := s.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'),
			(SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL
				AND processing_status NOT IN ('ready', 'failed')),
			(SELECT COUNT(*) FROM documents WHERE processing_status = 'failed' AND updated_at >= $1),
			(SELECT COUNT(*) FROM documents WHERE created_at >= $1),
			(SELECT COUNT(*) FROM documents WHERE processing_status = 'ready' AND updated_at >= $1)`,
		dayStart,
	).Scan(&stats.PendingApproval, &stats.Processing, &stats.FailedToday,
		&stats.FilesDetectedToday, &stats.FilesProcessedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}
	return &stats, nil
}
