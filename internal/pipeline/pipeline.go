package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/canonicalize"
	"github.com/lecpa/docsync/internal/chunker"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/embedder"
	"github.com/lecpa/docsync/internal/extract"
	"github.com/lecpa/docsync/internal/fields"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/ocr"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const (
	defaultTaskTimeLimit = 600 * time.Second
	defaultSoftTimeLimit = 540 * time.Second
)

var (
	// ErrNoText is returned when a document yields no chunkable text
	ErrNoText = errors.New("no text extracted")
	// ErrEmbeddingCount is returned when the embedder returns the wrong number of vectors
	ErrEmbeddingCount = errors.New("embedding count does not match chunk count")
)

// TextExtractor turns a file into page-indexed text
type TextExtractor interface {
	Extract(ctx context.Context, mimeType, path string) (*extract.Result, error)
}

// OCREngine recognizes text in scanned files
type OCREngine interface {
	Run(ctx context.Context, path string) (*ocr.Result, error)
}

// FieldExtractor runs the field-extraction lane for ready documents
type FieldExtractor interface {
	AutoExtract(ctx context.Context, documentID string) (*fields.Outcome, error)
}

// CacheInvalidator drops cached search results when the chunk store changes
type CacheInvalidator interface {
	InvalidateCache()
}

// Orchestrator drives each document through
// extracting -> [ocr] -> canonicalizing -> chunking -> embedding -> ready,
// persisting every transition before the next stage starts
type Orchestrator struct {
	store      storage.Storage
	blobs      blobstore.Store
	nas        blobstore.Store
	extractor  TextExtractor
	ocr        OCREngine
	chunker    *chunker.Chunker
	embedder   embedder.Embedder
	pool       *Pool
	fields     FieldExtractor
	invalidate CacheInvalidator
	logger     *zap.Logger
	metrics    *metrics.Recorder

	ocrCfg    config.OCRConfig
	tempDir   string
	hardLimit time.Duration
	softLimit time.Duration
	threshold float64

	running *inflight
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithFieldExtractor enables the field-extraction lane
func WithFieldExtractor(f FieldExtractor) Option {
	return func(o *Orchestrator) { o.fields = f }
}

// WithCacheInvalidator registers a search cache to clear when a document becomes ready
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(o *Orchestrator) { o.invalidate = c }
}

// WithOCREngine replaces the OCR engine
func WithOCREngine(e OCREngine) Option {
	return func(o *Orchestrator) { o.ocr = e }
}

// WithExtractor replaces the text extractor registry
func WithExtractor(e TextExtractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithNASStore reads documents that have a NAS source path from store
// instead of the upload store
func WithNASStore(store blobstore.Store) Option {
	return func(o *Orchestrator) { o.nas = store }
}

// WithTimeLimits overrides the configured hard and soft task limits
func WithTimeLimits(hard, soft time.Duration) Option {
	return func(o *Orchestrator) {
		o.hardLimit = hard
		o.softLimit = soft
	}
}

// New creates an Orchestrator. The pool must be started by the caller.
func New(cfg *config.Config, store storage.Storage, blobs blobstore.Store, emb embedder.Embedder, pool *Pool, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		blobs:     blobs,
		chunker:   chunker.New(cfg.Chunking),
		embedder:  emb,
		pool:      pool,
		logger:    zap.NewNop(),
		ocrCfg:    cfg.OCR,
		tempDir:   cfg.Pipeline.TempDir,
		hardLimit: time.Duration(cfg.Pipeline.TaskTimeLimitSeconds) * time.Second,
		softLimit: time.Duration(cfg.Pipeline.SoftTimeLimitSeconds) * time.Second,
		threshold: canonicalize.DefaultThreshold,
		running:   newInflight(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.extractor == nil {
		o.extractor = extract.NewRegistry(nil)
	}
	if o.ocr == nil {
		o.ocr = ocr.NewEngine(cfg.OCR, nil, o.tempDir, o.logger)
	}
	if o.hardLimit <= 0 {
		o.hardLimit = defaultTaskTimeLimit
	}
	if o.softLimit <= 0 || o.softLimit >= o.hardLimit {
		o.softLimit = o.hardLimit * 9 / 10
	}
	return o
}

// Enqueue schedules a document on the ingest lane
func (o *Orchestrator) Enqueue(ctx context.Context, documentID string) error {
	if err := o.pool.Submit(ctx, LaneIngest, func(ctx context.Context) error {
		return o.Process(ctx, documentID)
	}); err != nil {
		return fmt.Errorf("failed to enqueue document %s: %w", documentID, err)
	}
	o.logger.Debug("document enqueued", zap.String("document_id", documentID))
	return nil
}

// Process runs the pipeline for one document. Stage failures are written to
// the document as failed and are not returned; the error return is reserved
// for failures to record status at all.
func (o *Orchestrator) Process(ctx context.Context, documentID string) error {
	if !o.running.tryAcquire(documentID) {
		o.logger.Info("document already processing, rerun scheduled", zap.String("document_id", documentID))
		return nil
	}
	rerun := false
	for {
		err := o.processOnce(ctx, documentID, rerun)
		if !o.running.release(documentID) {
			return err
		}
		if ctx.Err() != nil {
			o.running.release(documentID)
			return err
		}
		rerun = true
		o.logger.Info("rerunning document", zap.String("document_id", documentID))
	}
}

// processOnce runs the chain once. A rerun restarts from pending even if the
// previous run left the document in a terminal state.
func (o *Orchestrator) processOnce(ctx context.Context, documentID string, rerun bool) error {
	hardCtx, cancelHard := context.WithTimeout(ctx, o.hardLimit)
	defer cancelHard()
	softCtx, cancelSoft := context.WithTimeout(hardCtx, o.softLimit)
	defer cancelSoft()

	doc, err := o.store.GetDocument(hardCtx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	switch {
	case doc.DeletedAt != nil:
		o.logger.Info("skipping deleted document", zap.String("document_id", doc.ID))
		return nil
	case doc.Status.IsTerminal() && !rerun:
		o.logger.Info("skipping document in terminal status",
			zap.String("document_id", doc.ID),
			zap.String("status", string(doc.Status)))
		return nil
	case doc.Status != types.StatusPending:
		// redelivered after a crash mid-run: start the chain over
		if err := o.store.UpdateDocumentStatus(hardCtx, doc.ID, types.StatusPending, ""); err != nil {
			return fmt.Errorf("failed to reset document status: %w", err)
		}
		doc.Status = types.StatusPending
	}

	timer := metrics.NewTimer()
	o.logger.Info("processing document",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.String("mime_type", doc.MimeType))

	if err := o.run(softCtx, doc); err != nil {
		o.logger.Error("document processing failed",
			zap.String("document_id", doc.ID),
			zap.String("stage", string(doc.Status)),
			zap.Error(err))
		o.metrics.RecordDocument(string(types.StatusFailed))
		// the hard limit leaves room to record the failure after the soft limit fires
		if uerr := o.store.UpdateDocumentStatus(hardCtx, doc.ID, types.StatusFailed, err.Error()); uerr != nil {
			return fmt.Errorf("failed to record failure for %s: %w", doc.ID, uerr)
		}
		return nil
	}

	o.metrics.RecordDocument(string(types.StatusReady))
	o.logger.Info("document ready",
		zap.String("document_id", doc.ID),
		zap.Duration("duration", timer.Duration()))

	if o.invalidate != nil {
		o.invalidate.InvalidateCache()
	}
	o.dispatchFieldExtraction(ctx, doc)
	return nil
}

// run executes every stage; doc.Status tracks the last persisted state
func (o *Orchestrator) run(ctx context.Context, doc *types.Document) error {
	if err := o.transition(ctx, doc, types.StatusExtracting); err != nil {
		return err
	}

	path, cleanup, err := blobstore.Materialize(ctx, o.storeFor(doc), doc.StorageKey, o.tempDir)
	if err != nil {
		return fmt.Errorf("failed to fetch document bytes: %w", err)
	}
	defer cleanup()

	var extracted *extract.Result
	err = o.stage(ctx, LaneExtract, "extract", func(ctx context.Context) error {
		var err error
		extracted, err = o.extractor.Extract(ctx, doc.MimeType, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	pages := extracted.Pages
	pageCount := max(extracted.PageCount, len(pages))
	isOCR := false

	if ocrCapable(doc.MimeType) && ocr.NeedsOCR(o.ocrCfg, charCount(pages), doc.FileSize, pageCount) {
		if err := o.transition(ctx, doc, types.StatusOCR); err != nil {
			return err
		}
		var recognized *ocr.Result
		err := o.stage(ctx, LaneOCR, "ocr", func(ctx context.Context) error {
			var err error
			recognized, err = o.ocr.Run(ctx, path)
			return err
		})
		if err != nil {
			return err
		}
		pages = recognized.Pages
		pageCount = max(recognized.PageCount, len(pages))
		isOCR = true
		o.logger.Info("ocr complete",
			zap.String("document_id", doc.ID),
			zap.Int("pages", pageCount),
			zap.Float64("confidence", recognized.Confidence))
	}

	if err := o.transition(ctx, doc, types.StatusCanonicalizing); err != nil {
		return err
	}
	canonical := canonicalize.Canonicalize(pages, isOCR, o.threshold)
	if len(canonical.RemovedHeaders)+len(canonical.RemovedFooters) > 0 {
		o.logger.Debug("removed boilerplate",
			zap.String("document_id", doc.ID),
			zap.Strings("headers", canonical.RemovedHeaders),
			zap.Strings("footers", canonical.RemovedFooters))
	}

	if err := o.transition(ctx, doc, types.StatusChunking); err != nil {
		return err
	}
	chunks := o.chunker.Chunk(canonical.Text)
	if !hasContent(pages) || len(chunks) == 0 {
		return ErrNoText
	}

	if err := o.transition(ctx, doc, types.StatusEmbedding); err != nil {
		return err
	}
	var resp *embedder.BatchEmbeddingResponse
	err = o.stage(ctx, LaneEmbed, "embed", func(ctx context.Context) error {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		var err error
		resp, err = o.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		return err
	})
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	vectors := resp.Vectors()
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingCount, len(vectors), len(chunks))
	}
	for i, c := range chunks {
		c.Embedding = vectors[i]
		c.EmbeddingModel = resp.Model
		c.IsOCR = isOCR
	}

	if err := o.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := o.store.CompleteDocument(ctx, doc.ID, storage.Completion{
		PageCount:      pageCount,
		IsOCR:          isOCR,
		EmbeddingModel: resp.Model,
		EmbeddingDim:   resp.Dimension,
	}); err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	doc.Status = types.StatusReady

	o.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.Int("pages", pageCount),
		zap.Int("chunks", len(chunks)),
		zap.Bool("ocr", isOCR))
	return nil
}

func (o *Orchestrator) storeFor(doc *types.Document) blobstore.Store {
	if doc.SourcePath != "" && o.nas != nil {
		return o.nas
	}
	return o.blobs
}

// transition persists the next status before its stage begins
func (o *Orchestrator) transition(ctx context.Context, doc *types.Document, next types.ProcessingStatus) error {
	if !doc.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, doc.Status, next)
	}
	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, next, ""); err != nil {
		return fmt.Errorf("failed to persist status %s: %w", next, err)
	}
	doc.Status = next
	return nil
}

// stage runs fn on a lane and records its duration
func (o *Orchestrator) stage(ctx context.Context, laneName, name string, fn TaskFunc) error {
	timer := metrics.NewTimer()
	err := o.pool.Do(ctx, laneName, fn)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.metrics.RecordStage(name, outcome, timer.Duration())
	return err
}

func (o *Orchestrator) dispatchFieldExtraction(ctx context.Context, doc *types.Document) {
	if o.fields == nil || !fields.ShouldAutoExtract(doc.Tags) {
		return
	}
	id := doc.ID
	err := o.pool.Submit(ctx, LaneFieldExtraction, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, o.hardLimit)
		defer cancel()
		timer := metrics.NewTimer()
		out, err := o.fields.AutoExtract(tctx, id)
		if err != nil {
			o.metrics.RecordStage("field_extraction", "error", timer.Duration())
			return fmt.Errorf("field extraction for %s: %w", id, err)
		}
		o.metrics.RecordStage("field_extraction", out.Status, timer.Duration())
		return nil
	})
	if err != nil {
		o.logger.Warn("failed to dispatch field extraction", zap.String("document_id", id), zap.Error(err))
	}
}

// ocrCapable reports whether the OCR engine can rasterize the mime type
func ocrCapable(mimeType string) bool {
	return mimeType == extract.MimePDF || strings.HasPrefix(mimeType, "image/")
}

func charCount(pages []types.Page) int {
	n := 0
	for _, p := range pages {
		n += utf8.RuneCountInString(p.Text)
	}
	return n
}

func hasContent(pages []types.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
