package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/pkg/types"
)

// ShortcutExt is the extension of Windows shortcut files
const ShortcutExt = ".lnk"

type clientRule struct {
	re         *regexp.Regexp
	clientType types.ClientType
}

type skipRule struct {
	glob string
	re   *regexp.Regexp
}

type tagRule struct {
	re  *regexp.Regexp
	tag string
}

// Parser maps NAS paths to client, case and document metadata.
// A Parser is immutable after construction and safe for concurrent use.
type Parser struct {
	root           string
	clientRules    []clientRule
	yearRe         *regexp.Regexp
	specialFolders map[string]config.SpecialFolder
	skipRules      []skipRule
	tagRules       []tagRule
}

// New compiles the parsing rules from cfg
func New(cfg *config.Config) (*Parser, error) {
	p := &Parser{
		root:           filepath.Clean(cfg.NAS.RootPath),
		specialFolders: make(map[string]config.SpecialFolder, len(cfg.SpecialFolders)),
	}

	for _, cp := range cfg.ClientPatterns {
		re, err := regexp.Compile(cp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile client pattern %q: %w", cp.Pattern, err)
		}
		if err := requireGroups(re, "code", "name"); err != nil {
			return nil, fmt.Errorf("client pattern %q: %w", cp.Pattern, err)
		}
		p.clientRules = append(p.clientRules, clientRule{re: re, clientType: types.ClientType(cp.Type)})
	}

	yearRe, err := regexp.Compile(cfg.YearPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile year pattern: %w", err)
	}
	if err := requireGroups(yearRe, "year"); err != nil {
		return nil, fmt.Errorf("year pattern %q: %w", cfg.YearPattern, err)
	}
	p.yearRe = yearRe

	for _, glob := range cfg.SkipPatterns {
		re, err := regexp.Compile(GlobToRegex(glob))
		if err != nil {
			return nil, fmt.Errorf("failed to compile skip pattern %q: %w", glob, err)
		}
		p.skipRules = append(p.skipRules, skipRule{glob: glob, re: re})
	}

	for _, tr := range cfg.DocumentTags {
		re, err := regexp.Compile(tr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile tag pattern %q: %w", tr.Pattern, err)
		}
		p.tagRules = append(p.tagRules, tagRule{re: re, tag: tr.Tag})
	}

	for name, sf := range cfg.SpecialFolders {
		p.specialFolders[name] = sf
	}

	return p, nil
}

func requireGroups(re *regexp.Regexp, names ...string) error {
	for _, name := range names {
		if re.SubexpIndex(name) < 0 {
			return fmt.Errorf("missing named group (?P<%s>...)", name)
		}
	}
	return nil
}

// Root returns the cleaned NAS root the parser resolves paths against
func (p *Parser) Root() string {
	return p.root
}

// GlobToRegex converts a shell-style glob into an anchored regular expression.
// Only * and ? are wildcards; every other regex metacharacter is escaped.
func GlobToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '^', '$', '+', '{', '}', '[', ']', '|', '(', ')', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return b.String()
}

// Parse maps fullPath to its metadata. It never fails: unusable paths come back
// with IsValid false and a SkipReason.
func (p *Parser) Parse(fullPath string) types.ParsedPath {
	clean := filepath.Clean(fullPath)

	rel, err := filepath.Rel(p.root, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return types.ParsedPath{
			RelativePath: clean,
			DetectedTags: []string{},
			SkipReason:   "Not under NAS root",
		}
	}

	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return types.ParsedPath{
			RelativePath: rel,
			DetectedTags: []string{},
			SkipReason:   "Path too short (need client folder + file)",
		}
	}

	filename := parts[len(parts)-1]
	if glob, skip := p.matchSkip(filename); skip {
		return types.ParsedPath{
			RelativePath: rel,
			DetectedTags: []string{},
			SkipReason:   fmt.Sprintf("Matches skip pattern: %s", glob),
		}
	}

	code, name, clientType, ok := p.ParseClientFolder(parts[0])
	if !ok {
		return types.ParsedPath{
			RelativePath: rel,
			DetectedTags: []string{},
			SkipReason:   fmt.Sprintf("Invalid client folder format: %s", parts[0]),
		}
	}

	result := types.ParsedPath{
		ClientCode:   code,
		ClientName:   name,
		ClientType:   clientType,
		RelativePath: filepath.Join(parts[1:]...),
		DetectedTags: p.DetectTags(filename),
		IsValid:      true,
	}

	// Only a directory segment can be a year or special folder
	if len(parts) > 2 {
		result.Year, result.FolderTag, result.IsPermanent = p.parseSecondLevel(parts[1])
	}

	return result
}

// IsShortcut reports whether path names a Windows shortcut file
func IsShortcut(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ShortcutExt)
}

// ShortcutOwner returns the code of the client folder a shortcut lives in.
// Shortcuts are matched by skip patterns, so they bypass Parse.
func (p *Parser) ShortcutOwner(fullPath string) (string, bool) {
	if !IsShortcut(fullPath) {
		return "", false
	}
	rel, err := filepath.Rel(p.root, filepath.Clean(fullPath))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return "", false
	}
	code, _, _, ok := p.ParseClientFolder(parts[0])
	return code, ok
}

// ParseClientFolder matches a client folder name against the client rules in order
func (p *Parser) ParseClientFolder(folder string) (code, name string, clientType types.ClientType, ok bool) {
	for _, rule := range p.clientRules {
		m := rule.re.FindStringSubmatch(folder)
		if m == nil {
			continue
		}
		return m[rule.re.SubexpIndex("code")], m[rule.re.SubexpIndex("name")], rule.clientType, true
	}
	return "", "", "", false
}

// DetectTags returns every tag whose rule matches filename, in rule order
func (p *Parser) DetectTags(filename string) []string {
	tags := []string{}
	for _, rule := range p.tagRules {
		if rule.re.MatchString(filename) {
			tags = append(tags, rule.tag)
		}
	}
	return tags
}

func (p *Parser) matchSkip(filename string) (string, bool) {
	for _, rule := range p.skipRules {
		if rule.re.MatchString(filename) {
			return rule.glob, true
		}
	}
	return "", false
}

func (p *Parser) parseSecondLevel(folder string) (*int, string, bool) {
	if m := p.yearRe.FindStringSubmatch(folder); m != nil {
		if year, err := strconv.Atoi(m[p.yearRe.SubexpIndex("year")]); err == nil {
			return &year, "", false
		}
	}
	if sf, ok := p.specialFolders[folder]; ok {
		return nil, sf.Tag, sf.Permanent
	}
	return nil, "", false
}
