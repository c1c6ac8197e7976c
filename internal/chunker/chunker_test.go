package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
)

// buildDocument returns canonical text with the given number of pages,
// each holding paragraphs of roughly paraLen characters
func buildDocument(pages, parasPerPage, paraLen int) string {
	var parts []string
	for p := 1; p <= pages; p++ {
		var paras []string
		for i := 0; i < parasPerPage; i++ {
			word := fmt.Sprintf("p%dw%d ", p, i)
			paras = append(paras, strings.TrimSpace(strings.Repeat(word, paraLen/len(word)+1)))
		}
		parts = append(parts, fmt.Sprintf("[PAGE %d]\n%s", p, strings.Join(paras, "\n\n")))
	}
	return strings.Join(parts, "\n\n")
}

func TestNew_Defaults(t *testing.T) {
	c := New(config.ChunkingConfig{})
	assert.Equal(t, DefaultTargetTokens*DefaultCharsPerToken, c.targetChars)
	assert.Equal(t, 0, c.overlapChars)
	assert.Equal(t, DefaultCharsPerToken, c.charsPerToken)

	c = New(config.ChunkingConfig{TargetTokens: 100, OverlapTokens: 500})
	assert.Less(t, c.overlapChars, c.targetChars)
}

func TestChunk_Empty(t *testing.T) {
	c := New(config.ChunkingConfig{})
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestChunk_SingleShortDocument(t *testing.T) {
	c := New(config.ChunkingConfig{})
	chunks := c.Chunk("[PAGE 1]\nWages 50,000\n\n[PAGE 2]\nWithholding 5,000")

	require.Len(t, chunks, 1)
	ch := chunks[0]
	assert.Equal(t, 0, ch.ChunkIndex)
	assert.Equal(t, 1, ch.PageStart)
	assert.Equal(t, 2, ch.PageEnd)
	assert.Contains(t, ch.Content, "Withholding 5,000")
	assert.Equal(t, len(ch.Content)/DefaultCharsPerToken, ch.TokenCount)
}

func TestChunk_Properties(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 200, OverlapTokens: 20, CharsPerToken: 4})
	text := buildDocument(6, 4, 300)

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex, "indices are dense")
		assert.NoError(t, ch.Validate())
		assert.Equal(t, strings.TrimSpace(ch.Content), ch.Content)
		if i > 0 {
			prev := chunks[i-1]
			assert.LessOrEqual(t, prev.PageEnd, ch.PageStart+1, "chunk %d skips pages", i)
			assert.LessOrEqual(t, prev.PageStart, ch.PageStart)
		}
	}
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 6, chunks[len(chunks)-1].PageEnd)
}

func TestChunk_CoversAllText(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 100, OverlapTokens: 10, CharsPerToken: 4})
	text := buildDocument(3, 3, 250)

	var joined strings.Builder
	for _, ch := range c.Chunk(text) {
		joined.WriteString(ch.Content)
	}
	for p := 1; p <= 3; p++ {
		for i := 0; i < 3; i++ {
			assert.Contains(t, joined.String(), fmt.Sprintf("p%dw%d", p, i))
		}
	}
}

func TestChunk_Overlap(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 100, OverlapTokens: 25, CharsPerToken: 4})
	// No paragraph breaks: every window is a hard cut
	text := strings.Repeat("abcdefghij", 100)

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)
	first, second := chunks[0].Content, chunks[1].Content
	assert.Len(t, first, 400)
	assert.Equal(t, first[len(first)-100:], second[:100])
}

func TestChunk_PrefersParagraphBreak(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 100, OverlapTokens: 0, CharsPerToken: 4})
	text := strings.Repeat("a", 350) + "\n\n" + strings.Repeat("b", 400)

	chunks := c.Chunk(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("a", 350), chunks[0].Content)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "b"))
}

func TestChunk_PageStartFollowsPosition(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 50, OverlapTokens: 0, CharsPerToken: 4})
	text := "[PAGE 1]\n" + strings.Repeat("x", 150) + "\n\n[PAGE 2]\n" + strings.Repeat("y", 500)

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 2, last.PageStart, "chunk without a marker inherits the current page")
	assert.Equal(t, 2, last.PageEnd)
}

func TestChunk_MultibyteText(t *testing.T) {
	c := New(config.ChunkingConfig{TargetTokens: 10, OverlapTokens: 2, CharsPerToken: 4})
	text := strings.Repeat("ñandú é ", 40)

	for _, ch := range c.Chunk(text) {
		assert.True(t, strings.ToValidUTF8(ch.Content, "?") == ch.Content)
	}
}

func TestSectionHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"markdown heading", "## Income Summary\nWages", "Income Summary"},
		{"all caps line", "[PAGE 3]\nSCHEDULE C\nProfit or loss", "SCHEDULE C"},
		{"no heading", "[PAGE 1]\nWages and tips 50,000", ""},
		{"heading not first", "Intro text\n# Later", ""},
		{"long heading truncated", "# " + strings.Repeat("X", 300), strings.Repeat("X", maxSectionHeaderLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sectionHeader(tt.content))
		})
	}
}

func TestPageAt(t *testing.T) {
	markers := findMarkers("intro [PAGE 2] two [PAGE 5] five")
	require.Len(t, markers, 2)
	assert.Equal(t, 1, pageAt(markers, 0))
	assert.Equal(t, 2, pageAt(markers, markers[0].offset))
	assert.Equal(t, 5, pageAt(markers, markers[1].offset+3))
}
