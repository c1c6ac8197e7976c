package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/pkg/types"
)

const (
	// DefaultTargetTokens is the target token count per chunk
	DefaultTargetTokens = 1000

	// DefaultOverlapTokens is the overlap between consecutive chunks
	DefaultOverlapTokens = 100

	// DefaultCharsPerToken is the heuristic for estimating tokens
	DefaultCharsPerToken = 4

	// breakWindow is how far either side of the target boundary a paragraph break is searched
	breakWindow = 200

	maxSectionHeaderLen = 255
)

var (
	pageMarker    = regexp.MustCompile(`\[PAGE (\d+)\]`)
	markdownTitle = regexp.MustCompile(`^#+\s*(.+)$`)
	allCapsLine   = regexp.MustCompile(`^[A-Z][A-Z ]+$`)
)

// Chunker creates page-aware text chunks
type Chunker struct {
	targetChars   int
	overlapChars  int
	charsPerToken int
}

// New creates a Chunker; zero config values take the defaults
func New(cfg config.ChunkingConfig) *Chunker {
	target := cfg.TargetTokens
	if target <= 0 {
		target = DefaultTargetTokens
	}
	overlap := cfg.OverlapTokens
	if overlap < 0 {
		overlap = 0
	}
	perToken := cfg.CharsPerToken
	if perToken <= 0 {
		perToken = DefaultCharsPerToken
	}
	if overlap >= target {
		overlap = target / 2
	}
	return &Chunker{
		targetChars:   target * perToken,
		overlapChars:  overlap * perToken,
		charsPerToken: perToken,
	}
}

// marker is a [PAGE n] occurrence at a rune offset
type marker struct {
	offset int
	page   int
}

// Chunk splits text into chunks with dense indices starting at 0.
// Returned chunks carry no document ID or embedding.
func (c *Chunker) Chunk(text string) []*types.Chunk {
	runes := []rune(text)
	markers := findMarkers(text)

	var chunks []*types.Chunk
	pos := 0
	for pos < len(runes) {
		end := min(pos+c.targetChars, len(runes))
		if end < len(runes) {
			end = paragraphBreak(runes, pos, end)
		}

		start, stop := trimBounds(runes, pos, end)
		if start < stop {
			content := string(runes[start:stop])
			chunk := &types.Chunk{
				ChunkIndex:    len(chunks),
				Content:       content,
				PageStart:     pageAt(markers, start),
				PageEnd:       pageAt(markers, stop-1),
				TokenCount:    len([]rune(content)) / c.charsPerToken,
				SectionHeader: sectionHeader(content),
			}
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		next := end - c.overlapChars
		if next <= pos {
			next = end
		}
		pos = next
	}
	return chunks
}

// paragraphBreak returns the position just after the first "\n\n" within
// breakWindow of end, or end when there is none
func paragraphBreak(runes []rune, pos, end int) int {
	from := max(end-breakWindow, pos)
	to := min(end+breakWindow, len(runes))
	for i := from; i+1 < to; i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	return end
}

func trimBounds(runes []rune, start, stop int) (int, int) {
	for start < stop && isSpace(runes[start]) {
		start++
	}
	for stop > start && isSpace(runes[stop-1]) {
		stop--
	}
	return start, stop
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func findMarkers(text string) []marker {
	var markers []marker
	byteOff, runeOff := 0, 0
	for _, loc := range pageMarker.FindAllStringSubmatchIndex(text, -1) {
		runeOff += utf8.RuneCountInString(text[byteOff:loc[0]])
		byteOff = loc[0]
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		markers = append(markers, marker{offset: runeOff, page: n})
	}
	return markers
}

// pageAt is the page of the last marker starting at or before offset,
// or 1 before any marker
func pageAt(markers []marker, offset int) int {
	page := 1
	for _, m := range markers {
		if m.offset > offset {
			break
		}
		page = m.page
	}
	return page
}

// sectionHeader returns the first content line when it looks like a heading
func sectionHeader(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || pageMarker.FindString(line) == line {
			continue
		}
		var header string
		if m := markdownTitle.FindStringSubmatch(line); m != nil {
			header = strings.TrimSpace(m[1])
		} else if allCapsLine.MatchString(line) {
			header = line
		}
		if r := []rune(header); len(r) > maxSectionHeaderLen {
			header = string(r[:maxSectionHeaderLen])
		}
		return header
	}
	return ""
}
