// Package chunker divides canonical document text into overlapping,
// page-aware chunks for embedding and search.
//
// # Basic Usage
//
//	c := chunker.New(cfg.Chunking)
//	chunks := c.Chunk(canonical.Text)
//	for _, ch := range chunks {
//	    fmt.Printf("chunk %d: pages %d-%d, %d tokens\n",
//	        ch.ChunkIndex, ch.PageStart, ch.PageEnd, ch.TokenCount)
//	}
//
// # Chunking Strategy
//
// A window of TargetTokens*CharsPerToken characters slides over the text. Each
// window tries to end on a paragraph break ("\n\n") within 200 characters of
// the target boundary and falls back to a hard cut. The next window starts
// OverlapTokens*CharsPerToken characters before the previous end.
//
// Page numbers come from the [PAGE n] markers written by the canonicalizer.
// A chunk starts on the page in effect at its first character and ends on the
// page in effect at its last, so consecutive chunks never skip a page.
//
// A chunk whose first content line is a markdown heading or an all-caps line
// records that line as its section header.
//
// Token counts use the chars/CharsPerToken approximation.
package chunker
