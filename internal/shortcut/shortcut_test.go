package shortcut

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/parser"
)

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func lnkBytes(payload []byte) []byte {
	content := append([]byte{0x4C, 0x00, 0x00, 0x00}, make([]byte, 50)...)
	content = append(content, payload...)
	return append(content, make([]byte, 50)...)
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	p, err := parser.New(config.Default())
	require.NoError(t, err)
	return NewResolver(p)
}

func TestParse_InvalidMagic(t *testing.T) {
	got := Parse([]byte("This is not a LNK file"))
	assert.False(t, got.Valid)
	assert.Contains(t, got.Error, "invalid magic")
}

func TestParse_NoPath(t *testing.T) {
	got := Parse(append([]byte{0x4C, 0, 0, 0}, make([]byte, 100)...))
	assert.False(t, got.Valid)
	assert.Equal(t, "Could not extract target path from LNK file", got.Error)
}

func TestParse_UTF16Path(t *testing.T) {
	got := Parse(lnkBytes(utf16LE(`C:\Users\Test\Documents\Folder`)))
	require.True(t, got.Valid, got.Error)
	assert.Equal(t, `C:\Users\Test\Documents\Folder`, got.Path)
	assert.Equal(t, "Folder", got.Name)
}

func TestParse_UNCPath(t *testing.T) {
	got := Parse(lnkBytes(utf16LE(`\\nas01\ClientFiles\2010_Acme LLC`)))
	require.True(t, got.Valid, got.Error)
	assert.Equal(t, "2010_Acme LLC", got.Name)
}

func TestParse_ASCIIFallback(t *testing.T) {
	got := Parse(lnkBytes([]byte(`Z:\ClientFiles\2010_Acme LLC`)))
	require.True(t, got.Valid, got.Error)
	assert.Equal(t, "2010_Acme LLC", got.Name)
}

func TestParse_ShortMatchesIgnored(t *testing.T) {
	got := Parse(lnkBytes(utf16LE(`C:\a`)))
	assert.False(t, got.Valid)
}

func TestParse_LongestMatchWins(t *testing.T) {
	payload := append(utf16LE(`C:\Short\Path`), 0, 0)
	payload = append(payload, utf16LE(`C:\ClientFiles\Businesses\2010_Acme LLC`)...)
	got := Parse(lnkBytes(payload))
	require.True(t, got.Valid)
	assert.Equal(t, "2010_Acme LLC", got.Name)
}

func TestParseFile_Missing(t *testing.T) {
	got := ParseFile(filepath.Join(t.TempDir(), "missing.lnk"))
	assert.False(t, got.Valid)
	assert.Contains(t, got.Error, "Failed to read file")
}

func TestResolve(t *testing.T) {
	r := newResolver(t)
	dir := t.TempDir()

	write := func(name, target string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, lnkBytes(utf16LE(target)), 0o600))
		return path
	}

	t.Run("individual to business", func(t *testing.T) {
		path := write("acme.lnk", `\\nas01\ClientFiles\2010_Acme LLC`)
		res := r.Resolve(path, "1001")
		require.True(t, res.Found, res.Reason)
		assert.Equal(t, Relationship{
			IndividualCode: "1001",
			BusinessCode:   "2010",
			Source:         SourceLNK,
			SourcePath:     path,
		}, res.Relationship)
	})

	t.Run("business to individual is not a relationship", func(t *testing.T) {
		path := write("owner.lnk", `\\nas01\ClientFiles\1001_Smith, John`)
		res := r.Resolve(path, "2010")
		assert.False(t, res.Found)
		assert.Contains(t, res.Reason, "individual to business")
	})

	t.Run("target is not a client folder", func(t *testing.T) {
		path := write("docs.lnk", `C:\Users\Test\Documents`)
		res := r.Resolve(path, "1001")
		assert.False(t, res.Found)
		assert.Contains(t, res.Reason, "not a client folder")
	})

	t.Run("unreadable", func(t *testing.T) {
		res := r.Resolve(filepath.Join(dir, "nope.lnk"), "1001")
		assert.False(t, res.Found)
		assert.Contains(t, res.Reason, "Failed to read file")
	})
}
