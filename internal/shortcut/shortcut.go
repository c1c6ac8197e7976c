// Package shortcut extracts client cross-references from Windows .lnk files.
//
// Shortcut files are not parsed structurally. The target path is recovered by
// scanning the raw bytes for Windows-style paths, first as UTF-16LE text and
// then as UTF-8, which covers the shortcuts found on the NAS in practice.
// Every function here returns a value describing success or failure; malformed
// shortcuts are expected and never produce an error.
package shortcut

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/lecpa/docsync/pkg/types"
)

// SourceLNK identifies relationships discovered from shortcut files
const SourceLNK = "lnk_shortcut"

// minPathLength filters out short false-positive path matches
const minPathLength = 10

var (
	magic = []byte{0x4C, 0x00, 0x00, 0x00}

	localPathRe = regexp.MustCompile(`[A-Za-z]:\\[^<>:"|?*\x00-\x1f]+`)
	uncPathRe   = regexp.MustCompile(`\\\\[^<>:"|?*\x00-\x1f]+`)
)

// Target is the outcome of reading one shortcut file
type Target struct {
	Path  string
	Name  string
	Valid bool
	Error string
}

// ParseFile reads and parses the shortcut at path
func ParseFile(path string) Target {
	content, err := os.ReadFile(path)
	if err != nil {
		return Target{Error: fmt.Sprintf("Failed to read file: %v", err)}
	}
	return Parse(content)
}

// Parse extracts the target path from shortcut bytes
func Parse(content []byte) Target {
	if len(content) < len(magic) || !bytes.Equal(content[:len(magic)], magic) {
		return Target{Error: "Not a valid LNK file (invalid magic bytes)"}
	}

	target := extractPath(content)
	if target == "" {
		return Target{Error: "Could not extract target path from LNK file"}
	}

	return Target{
		Path:  target,
		Name:  windowsBase(target),
		Valid: true,
	}
}

func extractPath(content []byte) string {
	wide := decodeUTF16LE(content)
	narrow := strings.ToValidUTF8(string(content), "")

	var matches []string
	for _, attempt := range []struct {
		re   *regexp.Regexp
		text string
	}{
		{localPathRe, wide},
		{uncPathRe, wide},
		{localPathRe, narrow},
		{uncPathRe, narrow},
	} {
		matches = attempt.re.FindAllString(attempt.text, -1)
		if len(matches) > 0 {
			break
		}
	}

	longest := ""
	for _, m := range matches {
		if len(m) > minPathLength && len(m) > len(longest) {
			longest = m
		}
	}
	return longest
}

// decodeUTF16LE decodes pairs of bytes, dropping a trailing odd byte
func decodeUTF16LE(content []byte) string {
	units := make([]uint16, 0, len(content)/2)
	for i := 0; i+1 < len(content); i += 2 {
		units = append(units, uint16(content[i])|uint16(content[i+1])<<8)
	}
	runes := utf16.Decode(units)
	var b strings.Builder
	for _, r := range runes {
		if r == '\uFFFD' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func windowsBase(path string) string {
	trimmed := strings.TrimRight(path, `\/ `)
	if i := strings.LastIndexAny(trimmed, `\/`); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// ClientMatcher recognises client folder names
type ClientMatcher interface {
	ParseClientFolder(folder string) (code, name string, clientType types.ClientType, ok bool)
}

// Relationship is an ownership link discovered from a shortcut
type Relationship struct {
	IndividualCode string `json:"individual_code"`
	BusinessCode   string `json:"business_code"`
	Source         string `json:"source"`
	SourcePath     string `json:"source_path"`
}

// Resolution is the maybe-result of resolving a shortcut: Found reports whether
// Relationship is usable, Reason explains why not
type Resolution struct {
	Relationship Relationship
	Target       Target
	Found        bool
	Reason       string
}

// Resolver turns shortcut files into client relationships
type Resolver struct {
	matcher ClientMatcher
}

// NewResolver creates a Resolver using matcher to identify target folders
func NewResolver(matcher ClientMatcher) *Resolver {
	return &Resolver{matcher: matcher}
}

// TargetCode returns the client code of the folder a shortcut points to
func (r *Resolver) TargetCode(target Target) (string, bool) {
	if !target.Valid {
		return "", false
	}
	code, _, _, ok := r.matcher.ParseClientFolder(target.Name)
	return code, ok
}

// Resolve reads the shortcut at lnkPath found inside the folder of sourceCode.
// Only an individual (1xxx) folder pointing at a business (2xxx) folder yields
// a relationship.
func (r *Resolver) Resolve(lnkPath, sourceCode string) Resolution {
	return r.resolve(ParseFile(lnkPath), lnkPath, sourceCode)
}

// ResolveBytes is Resolve for shortcut content already in memory
func (r *Resolver) ResolveBytes(content []byte, lnkPath, sourceCode string) Resolution {
	return r.resolve(Parse(content), lnkPath, sourceCode)
}

func (r *Resolver) resolve(target Target, lnkPath, sourceCode string) Resolution {
	res := Resolution{Target: target}
	if !target.Valid {
		res.Reason = target.Error
		return res
	}

	targetCode, ok := r.TargetCode(target)
	if !ok {
		res.Reason = fmt.Sprintf("Target folder is not a client folder: %s", target.Name)
		return res
	}

	if !strings.HasPrefix(sourceCode, "1") || !strings.HasPrefix(targetCode, "2") {
		res.Reason = fmt.Sprintf("Not an individual to business link: %s -> %s", sourceCode, targetCode)
		return res
	}

	res.Found = true
	res.Relationship = Relationship{
		IndividualCode: sourceCode,
		BusinessCode:   targetCode,
		Source:         SourceLNK,
		SourcePath:     lnkPath,
	}
	return res
}
