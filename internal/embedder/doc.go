// Package embedder generates vector embeddings for document chunks and search queries.
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//	for i, e := range resp.Embeddings {
//	    chunks[i].Embedding = e.Vector
//	}
//
// The pipeline makes one GenerateBatch call per document. The embedder splits
// it into requests of at most BatchSize texts and returns vectors in order.
//
// # Providers
//
//   - tei: a text-embeddings-inference server (POST {base_url}/embed), the
//     production setup serving BAAI/bge-small-en-v1.5 at 384 dimensions
//   - openai, jina: hosted APIs with the OpenAI embeddings wire format
//   - local: offline signed feature hashing, model "local-hash-v1"
//
// Every returned vector is checked against the configured dimension. Model and
// Dimension are recorded on documents so a later model change is detectable.
//
// # Caching
//
// Embeddings are cached in an LRU keyed by model and SHA-256 of the text, so
// re-indexing unchanged chunks and repeated queries skip the provider.
//
// # Error Handling
//
// Transient failures (network errors, 429, 5xx) are retried with exponential
// backoff. Other 4xx responses fail immediately. Failures wrap ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // document goes to failed
//	}
package embedder
