package types

// Citation is a ranked search hit pointing into a document chunk
type Citation struct {
	DocumentID       string  `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	ChunkID          int64   `json:"chunk_id"`
	PageStart        int     `json:"page_start"`
	PageEnd          int     `json:"page_end"`
	Snippet          string  `json:"snippet"`
	RelevanceScore   float64 `json:"relevance_score"` // Clamped combined score
	Rank             int     `json:"rank"`            // Position in result set (1-based)
}

// Validate checks if the citation is well formed
func (c *Citation) Validate() error {
	if c.ChunkID == 0 {
		return ErrInvalidChunkID
	}

	if c.Rank < 1 {
		return ErrInvalidRank
	}

	if c.RelevanceScore < 0 || c.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if c.DocumentID == "" {
		return ErrMissingDocument
	}

	if c.Snippet == "" {
		return ErrEmptyContent
	}

	return nil
}
