package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

// seedCase creates an approved client with one year case
func seedCase(t *testing.T, s *SQLiteStorage, code string, year int) (*types.Client, *types.Case) {
	t.Helper()
	ctx := context.Background()
	client := &types.Client{
		ClientCode:     code,
		Name:           "Client " + code,
		ClientType:     types.ClientIndividual,
		ApprovalStatus: types.ApprovalApproved,
	}
	require.NoError(t, s.CreateClient(ctx, client))
	c := &types.Case{ClientID: client.ID, TaxYear: year}
	require.NoError(t, s.CreateCase(ctx, c))
	return client, c
}

func TestNewSQLiteStorage_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsync.db")

	first, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer first.Close()
	seedCase(t, first, "1001", 2024)

	// a second process reopens the same file; migrations are already applied
	second, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer second.Close()

	client, err := second.GetClientByCode(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "Client 1001", client.Name)
}

func newDocument(caseID, name, hash string) *types.Document {
	return &types.Document{
		CaseID:           caseID,
		Filename:         name,
		OriginalFilename: name,
		StorageKey:       "documents/" + caseID + "/" + name,
		MimeType:         "application/pdf",
		FileSize:         1024,
		FileHash:         hash,
		SourcePath:       "/nas/" + name,
		Tags:             []string{"W2"},
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := currentVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.Original())
}

func TestClientAndCase(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	client, c := seedCase(t, s, "1001", 2024)
	assert.NotEmpty(t, client.ID)

	got, err := s.GetClientByCode(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, types.ClientIndividual, got.ClientType)
	assert.True(t, got.Approved())

	err = s.CreateClient(ctx, &types.Client{ClientCode: "1001", Name: "dup", ClientType: types.ClientIndividual})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetClientByCode(ctx, "9999")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := s.FindYearCase(ctx, client.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)
	assert.Equal(t, "tax_return", found.CaseType)

	_, err = s.FindYearCase(ctx, client.ID, 2023)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindPermanentCase(ctx, client.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	perm := &types.Case{ClientID: client.ID, TaxYear: 0, IsPermanent: true}
	require.NoError(t, s.CreateCase(ctx, perm))
	found, err = s.FindPermanentCase(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, perm.ID, found.ID)
	assert.True(t, found.IsPermanent)

	err = s.CreateCase(ctx, &types.Case{ClientID: client.ID, IsPermanent: true})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDocumentLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)

	doc := newDocument(c.ID, "w2.pdf", "sha256:aaa")
	require.NoError(t, s.CreateDocument(ctx, doc))
	assert.Equal(t, types.StatusPending, doc.Status)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"W2"}, got.Tags)
	assert.Nil(t, got.PageCount)
	assert.Nil(t, got.DeletedAt)

	bySource, err := s.GetDocumentBySourcePath(ctx, "/nas/w2.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, bySource.ID)

	byHash, err := s.GetDocumentByHash(ctx, "sha256:aaa")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	_, err = s.GetDocumentByHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateDocumentStatus(ctx, doc.ID, types.StatusExtracting, ""))
	require.NoError(t, s.CompleteDocument(ctx, doc.ID, Completion{PageCount: 3, EmbeddingModel: "bge-small", EmbeddingDim: 4}))

	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status)
	require.NotNil(t, got.PageCount)
	assert.Equal(t, 3, *got.PageCount)
	assert.Equal(t, "bge-small", got.EmbeddingModel)

	err = s.UpdateDocumentStatus(ctx, "missing", types.StatusFailed, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentUniqueness(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)

	require.NoError(t, s.CreateDocument(ctx, newDocument(c.ID, "a.pdf", "sha256:aaa")))

	t.Run("same source path", func(t *testing.T) {
		dup := newDocument(c.ID, "a.pdf", "sha256:bbb")
		dup.StorageKey = "documents/other"
		assert.ErrorIs(t, s.CreateDocument(ctx, dup), ErrAlreadyExists)
	})

	t.Run("same hash", func(t *testing.T) {
		dup := newDocument(c.ID, "b.pdf", "sha256:aaa")
		assert.ErrorIs(t, s.CreateDocument(ctx, dup), ErrAlreadyExists)
	})

	t.Run("empty hashes do not collide", func(t *testing.T) {
		require.NoError(t, s.CreateDocument(ctx, newDocument(c.ID, "c.pdf", "")))
		require.NoError(t, s.CreateDocument(ctx, newDocument(c.ID, "d.pdf", "")))
	})
}

func TestSoftDeleteRestoreAndPurge(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)

	doc := newDocument(c.ID, "a.pdf", "sha256:aaa")
	require.NoError(t, s.CreateDocument(ctx, doc))

	deletedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	retention := deletedAt.AddDate(0, 0, 90)
	require.NoError(t, s.SoftDeleteDocument(ctx, doc.ID, deletedAt, retention))

	docs, err := s.ListDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = s.ListDocuments(ctx, DocumentFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].RetentionUntil)
	assert.True(t, docs[0].RetentionUntil.Equal(retention))

	require.NoError(t, s.RestoreDocument(ctx, doc.ID, deletedAt.Add(time.Hour)))
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, got.RetentionUntil)

	require.NoError(t, s.SoftDeleteDocument(ctx, doc.ID, deletedAt, retention))

	n, err := s.PurgeDeletedDocuments(ctx, retention.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.PurgeDeletedDocuments(ctx, retention.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelocateDocument(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)

	uploaded := newDocument(c.ID, "a.pdf", "sha256:aaa")
	require.NoError(t, s.CreateDocument(ctx, uploaded))

	fromNAS := newDocument(c.ID, "b.pdf", "sha256:bbb")
	fromNAS.StorageKey = fromNAS.SourcePath
	require.NoError(t, s.CreateDocument(ctx, fromNAS))

	deletedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{uploaded.ID, fromNAS.ID} {
		require.NoError(t, s.SoftDeleteDocument(ctx, id, deletedAt, deletedAt.AddDate(0, 0, 90)))
	}

	seen := deletedAt.Add(time.Hour)
	require.NoError(t, s.RelocateDocument(ctx, uploaded.ID, Relocation{
		SourcePath: "/nas/moved/a.pdf", RelativePath: "moved/a.pdf", Filename: "a.pdf", SeenAt: seen,
	}))
	require.NoError(t, s.RelocateDocument(ctx, fromNAS.ID, Relocation{
		SourcePath: "/nas/moved/b-final.pdf", RelativePath: "moved/b-final.pdf", Filename: "b-final.pdf", SeenAt: seen,
	}))

	got, err := s.GetDocument(ctx, uploaded.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, got.RetentionUntil)
	assert.Equal(t, "/nas/moved/a.pdf", got.SourcePath)
	assert.Equal(t, "moved/a.pdf", got.NASRelativePath)
	assert.Equal(t, uploaded.StorageKey, got.StorageKey)

	got, err = s.GetDocumentBySourcePath(ctx, "/nas/moved/b-final.pdf")
	require.NoError(t, err)
	assert.Equal(t, fromNAS.ID, got.ID)
	assert.Equal(t, "b-final.pdf", got.Filename)
	assert.Equal(t, "/nas/moved/b-final.pdf", got.StorageKey)

	assert.ErrorIs(t, s.RelocateDocument(ctx, "missing", Relocation{SourcePath: "/nas/x.pdf", SeenAt: seen}), ErrNotFound)

	n, err := s.PurgeDeletedDocuments(ctx, deletedAt.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplaceChunks(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)
	doc := newDocument(c.ID, "a.pdf", "sha256:aaa")
	require.NoError(t, s.CreateDocument(ctx, doc))

	build := func() []*types.Chunk {
		return []*types.Chunk{
			{ChunkIndex: 0, Content: "wages and tips", PageStart: 1, PageEnd: 1, Embedding: []float32{1, 0, 0, 0}},
			{ChunkIndex: 1, Content: "federal withholding", PageStart: 1, PageEnd: 2, SectionHeader: "Box 2"},
		}
	}

	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, build()))
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, build()))

	chunks, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, []float32{1, 0, 0, 0}, chunks[0].Embedding)
	assert.Nil(t, chunks[1].Embedding)
	assert.Equal(t, "Box 2", chunks[1].SectionHeader)

	t.Run("rejects gaps in indices", func(t *testing.T) {
		bad := []*types.Chunk{{ChunkIndex: 1, Content: "x", PageStart: 1, PageEnd: 1}}
		assert.Error(t, s.ReplaceChunks(ctx, doc.ID, bad))

		// The failed replace rolled back
		chunks, err := s.ListChunks(ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
	})

	t.Run("rejects inverted page range", func(t *testing.T) {
		bad := []*types.Chunk{{ChunkIndex: 0, Content: "x", PageStart: 3, PageEnd: 2}}
		assert.ErrorIs(t, s.ReplaceChunks(ctx, doc.ID, bad), types.ErrInvalidPageRange)
	})
}

func TestQueueReview(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	due := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &types.SyncQueueItem{
		ItemType:      types.QueueItemClient,
		NASPath:       "/nas/1001_Smith, John",
		ParsedData:    map[string]any{"client_code": "1001"},
		AutoApproveAt: &due,
	}
	require.NoError(t, s.CreateQueueItem(ctx, item))

	dup := &types.SyncQueueItem{ItemType: types.QueueItemClient, NASPath: item.NASPath}
	assert.ErrorIs(t, s.CreateQueueItem(ctx, dup), ErrAlreadyExists)

	got, err := s.GetQueueItemByPath(ctx, item.NASPath)
	require.NoError(t, err)
	assert.Equal(t, "1001", got.ParsedData["client_code"])
	assert.Equal(t, types.QueuePending, got.Status)

	dueItems, err := s.ListDueQueueItems(ctx, due.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, dueItems)

	dueItems, err = s.ListDueQueueItems(ctx, due)
	require.NoError(t, err)
	assert.Len(t, dueItems, 1)

	review := Review{Status: types.QueueApproved, ReviewedAt: due, ReviewedBy: "staff"}
	require.NoError(t, s.ReviewQueueItem(ctx, item.ID, review))

	review.Status = types.QueueRejected
	assert.ErrorIs(t, s.ReviewQueueItem(ctx, item.ID, review), ErrAlreadyReviewed)
	assert.ErrorIs(t, s.ReviewQueueItem(ctx, "missing", review), ErrNotFound)

	got, err = s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueApproved, got.Status)
	assert.Equal(t, "staff", got.ReviewedBy)

	items, total, err := s.ListQueueItems(ctx, QueueFilter{Status: types.QueuePending})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, items)

	n, err := s.CountQueueItems(ctx, types.QueueApproved)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransactionApproval(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	item := &types.SyncQueueItem{ItemType: types.QueueItemClient, NASPath: "/nas/2002_Acme LLC"}
	require.NoError(t, s.CreateQueueItem(ctx, item))

	t.Run("rollback discards", func(t *testing.T) {
		tx, err := s.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateClient(ctx, &types.Client{ClientCode: "2002", Name: "Acme LLC", ClientType: types.ClientBusiness}))
		require.NoError(t, tx.Rollback())

		_, err = s.GetClientByCode(ctx, "2002")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit persists", func(t *testing.T) {
		tx, err := s.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.ReviewQueueItem(ctx, item.ID, Review{Status: types.QueueApproved, ReviewedAt: time.Now()}))
		client := &types.Client{ClientCode: "2002", Name: "Acme LLC", ClientType: types.ClientBusiness}
		require.NoError(t, tx.CreateClient(ctx, client))
		require.NoError(t, tx.CreateCase(ctx, &types.Case{ClientID: client.ID, TaxYear: 2024}))
		require.NoError(t, tx.Commit())

		got, err := s.GetClientByCode(ctx, "2002")
		require.NoError(t, err)
		assert.Equal(t, types.ClientBusiness, got.ClientType)
	})
}

func TestCreateRelationship(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	person, _ := seedCase(t, s, "1001", 2024)
	business, _ := seedCase(t, s, "2002", 2024)

	rel := &types.ClientRelationship{IndividualID: person.ID, BusinessID: business.ID, Source: "lnk_shortcut"}
	created, err := s.CreateRelationship(ctx, rel)
	require.NoError(t, err)
	assert.True(t, created)

	again := &types.ClientRelationship{IndividualID: person.ID, BusinessID: business.ID, Source: "lnk_shortcut"}
	created, err = s.CreateRelationship(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestExtractions(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)
	doc := newDocument(c.ID, "w2.pdf", "sha256:aaa")
	require.NoError(t, s.CreateDocument(ctx, doc))

	_, err := s.GetExtraction(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveExtraction(ctx, &Extraction{DocumentID: doc.ID, DocumentType: "W2", Content: `{"wages":"1"}`}))
	require.NoError(t, s.SaveExtraction(ctx, &Extraction{DocumentID: doc.ID, DocumentType: "W2", Content: `{"wages":"2"}`}))

	ext, err := s.GetExtraction(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"wages":"2"}`, ext.Content)
}

func TestStaleEmbeddingsAndStats(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, c := seedCase(t, s, "1001", 2024)

	oldDoc := newDocument(c.ID, "old.pdf", "sha256:old")
	newDoc := newDocument(c.ID, "new.pdf", "sha256:new")
	failed := newDocument(c.ID, "bad.pdf", "sha256:bad")
	for _, d := range []*types.Document{oldDoc, newDoc, failed} {
		require.NoError(t, s.CreateDocument(ctx, d))
	}
	require.NoError(t, s.CompleteDocument(ctx, oldDoc.ID, Completion{EmbeddingModel: "v1", EmbeddingDim: 4}))
	require.NoError(t, s.CompleteDocument(ctx, newDoc.ID, Completion{EmbeddingModel: "v2", EmbeddingDim: 4}))
	require.NoError(t, s.UpdateDocumentStatus(ctx, failed.ID, types.StatusFailed, "no text"))

	stale, err := s.ListStaleEmbeddings(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, []string{oldDoc.ID}, stale)

	require.NoError(t, s.CreateQueueItem(ctx, &types.SyncQueueItem{ItemType: types.QueueItemCase, NASPath: "/nas/x/2024"}))

	stats, err := s.GetSyncStats(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingApproval)
	assert.Equal(t, 0, stats.Processing)
	assert.Equal(t, 1, stats.FailedToday)
	assert.Equal(t, 3, stats.FilesDetectedToday)
	assert.Equal(t, 2, stats.FilesProcessedToday)
}
