// Package pipeline turns admitted documents into embedded, searchable chunks.
//
// # Stages
//
// Each document moves through a forward-only state machine:
//
//	pending -> extracting -> [ocr] -> canonicalizing -> chunking -> embedding -> ready
//
// Every transition is written to storage before the stage starts, so a crash
// leaves an accurate status behind. Any stage error ends in failed with the
// error text stored on the document; the worker itself keeps running.
//
// The OCR stage runs only when the extracted text looks like a scan (see
// ocr.NeedsOCR). Chunks are embedded with one batch call per document and
// replace any previous chunk set for the document.
//
// # Lanes
//
// Work runs on a Pool with a fixed number of workers per lane:
//
//	ingest            one task per document, owns the state machine
//	extract           format-specific text extraction
//	ocr               rasterize and recognize
//	embed             batch embedding
//	field_extraction  tax-form field extraction after ready
//
// The ingest task dispatches each heavy stage to its lane and waits for the
// result, so a slow OCR job never holds an extract worker.
//
// # Limits and redelivery
//
// Each document run carries a hard time limit and a shorter soft limit.
// Stages run under the soft limit; the gap is used to record the failure.
// Processing is safe to repeat: ready and failed documents are skipped,
// documents found mid-chain are restarted from pending, and chunk writes are
// delete-then-insert.
//
// # Usage
//
//	pool := pipeline.NewPool(cfg.Pipeline, logger, rec)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	orch := pipeline.New(cfg, store, blobs, emb, pool,
//	    pipeline.WithLogger(logger),
//	    pipeline.WithCacheInvalidator(searcher))
//	err := orch.Enqueue(ctx, documentID)
package pipeline
