// Package canonicalize cleans extracted page text before chunking: repeated
// headers and footers are removed, whitespace is normalized, common OCR
// misreads are corrected and each page is prefixed with a [PAGE n] marker.
package canonicalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/lecpa/docsync/pkg/types"
)

const (
	// DefaultThreshold is the fraction of pages a line must appear on to be boilerplate
	DefaultThreshold = 0.7

	// minPages is the fewest pages that give enough signal for boilerplate detection
	minPages = 3

	// edgeLines is how many lines at each end of a page are header/footer candidates
	edgeLines = 3

	// minBoilerplateLen keeps short lines such as bare page numbers
	minBoilerplateLen = 5
)

// Result is the canonical text of a document
type Result struct {
	Text           string
	Pages          []string // each prefixed with its [PAGE n] marker
	RemovedHeaders []string
	RemovedFooters []string
}

// PageMarker is the line that opens page n in canonical text
func PageMarker(n int) string {
	return fmt.Sprintf("[PAGE %d]", n)
}

// Canonicalize cleans pages and joins them with blank lines
func Canonicalize(pages []types.Page, isOCR bool, threshold float64) *Result {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}

	headers, footers := FindRepeatedLines(texts, threshold)

	result := &Result{
		Pages:          make([]string, len(texts)),
		RemovedHeaders: sortedKeys(headers),
		RemovedFooters: sortedKeys(footers),
	}
	for i, text := range texts {
		cleaned := RemoveLines(text, headers, footers)
		cleaned = CollapseWhitespace(cleaned)
		if isOCR {
			cleaned = NormalizeOCRArtifacts(cleaned)
		}
		result.Pages[i] = PageMarker(i+1) + "\n" + cleaned
	}
	result.Text = strings.Join(result.Pages, "\n\n")
	return result
}

// FindRepeatedLines returns lines that appear among the first or last three
// non-blank lines of at least threshold of the pages. Documents with fewer
// than three pages yield nothing.
func FindRepeatedLines(pages []string, threshold float64) (headers, footers map[string]struct{}) {
	headers = map[string]struct{}{}
	footers = map[string]struct{}{}
	if len(pages) < minPages {
		return headers, footers
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	minOccurrences := int(float64(len(pages)) * threshold)

	firstCounts := map[string]int{}
	lastCounts := map[string]int{}
	for _, page := range pages {
		var lines []string
		for _, l := range strings.Split(page, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		if len(lines) == 0 {
			continue
		}
		for _, l := range lines[:min(edgeLines, len(lines))] {
			firstCounts[l]++
		}
		for _, l := range lines[max(len(lines)-edgeLines, 0):] {
			lastCounts[l]++
		}
	}

	for line, n := range firstCounts {
		if n >= minOccurrences && len([]rune(line)) > minBoilerplateLen {
			headers[line] = struct{}{}
		}
	}
	for line, n := range lastCounts {
		if n >= minOccurrences && len([]rune(line)) > minBoilerplateLen {
			footers[line] = struct{}{}
		}
	}
	return headers, footers
}

// RemoveLines drops every line whose trimmed text is a header or footer
func RemoveLines(text string, headers, footers map[string]struct{}) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if _, ok := headers[trimmed]; ok && trimmed != "" {
			continue
		}
		if _, ok := footers[trimmed]; ok && trimmed != "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// CollapseWhitespace reduces runs of spaces and tabs to one space, strips
// trailing whitespace and leaves at most one blank line between paragraphs
func CollapseWhitespace(text string) string {
	text = horizontalSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

var (
	dollarSpacing = regexp.MustCompile(`\$\s+(\d)`)
	commaSpacing  = regexp.MustCompile(`(\d)\s*,\s*(\d{3})`)
)

// NormalizeOCRArtifacts fixes common tesseract misreads:
//   - l or | directly before a digit becomes 1
//   - 0 between letters becomes O, O between digits becomes 0
//   - spaces after a dollar sign before a digit are removed
//   - spaces around a thousands comma are removed
func NormalizeOCRArtifacts(text string) string {
	src := []rune(text)
	out := make([]rune, len(src))
	copy(out, src)
	isLetter := func(i int) bool {
		return i >= 0 && i < len(src) && src[i] < unicode.MaxASCII && unicode.IsLetter(src[i])
	}
	isDigit := func(i int) bool {
		return i >= 0 && i < len(src) && src[i] >= '0' && src[i] <= '9'
	}
	for i, r := range src {
		switch {
		case (r == 'l' || r == '|') && isDigit(i+1):
			out[i] = '1'
		case r == '0' && isLetter(i-1) && isLetter(i+1):
			out[i] = 'O'
		case r == 'O' && isDigit(i-1) && isDigit(i+1):
			out[i] = '0'
		}
	}
	text = string(out)

	text = dollarSpacing.ReplaceAllString(text, "$$${1}")
	// Adjacent groups share a digit, so repeat until stable
	for {
		next := commaSpacing.ReplaceAllString(text, "${1},${2}")
		if next == text {
			break
		}
		text = next
	}
	return text
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
