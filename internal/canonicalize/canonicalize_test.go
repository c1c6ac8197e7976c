package canonicalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/pkg/types"
)

func pagesOf(texts ...string) []types.Page {
	pages := make([]types.Page, len(texts))
	for i, t := range texts {
		pages[i] = types.Page{Number: i + 1, Text: t}
	}
	return pages
}

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"multiple spaces", "a    b", "a b"},
		{"tabs", "a\t\tb", "a b"},
		{"blank line runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"trailing whitespace", "a   \nb\t", "a\nb"},
		{"single blank line kept", "a\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CollapseWhitespace(tt.in))
		})
	}
}

func TestFindRepeatedLines(t *testing.T) {
	t.Run("headers and footers", func(t *testing.T) {
		pages := []string{
			"ACME BANK STATEMENT\nbody one\nConfidential footer",
			"ACME BANK STATEMENT\nbody two\nConfidential footer",
			"ACME BANK STATEMENT\nbody three\nConfidential footer",
		}
		headers, footers := FindRepeatedLines(pages, DefaultThreshold)
		assert.Contains(t, headers, "ACME BANK STATEMENT")
		assert.Contains(t, footers, "Confidential footer")
		assert.NotContains(t, headers, "body one")
	})

	t.Run("fewer than three pages", func(t *testing.T) {
		headers, footers := FindRepeatedLines([]string{"Header line\nx", "Header line\ny"}, DefaultThreshold)
		assert.Empty(t, headers)
		assert.Empty(t, footers)
	})

	t.Run("threshold", func(t *testing.T) {
		pages := []string{
			"Header\nalpha",
			"Header\nbeta",
			"Header\ngamma",
			"Other start\ndelta",
		}
		headers, _ := FindRepeatedLines(pages, DefaultThreshold)
		assert.Contains(t, headers, "Header")
		assert.NotContains(t, headers, "Other start")
	})

	t.Run("short lines ignored", func(t *testing.T) {
		pages := []string{"Page\na", "Page\nb", "Page\nc"}
		headers, _ := FindRepeatedLines(pages, DefaultThreshold)
		assert.Empty(t, headers)
	})
}

func TestNormalizeOCRArtifacts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"l before digit", "$l234", "$1234"},
		{"pipe before digit", "Value: |00", "Value: 100"},
		{"zero between letters", "C0MPANY", "COMPANY"},
		{"O between digits", "1O5", "105"},
		{"dollar spacing", "$ 500", "$500"},
		{"comma spacing", "1 , 234", "1,234"},
		{"chained groups", "1 , 234 , 567", "1,234,567"},
		{"plain text untouched", "Wages and tips", "Wages and tips"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOCRArtifacts(tt.in))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	t.Run("removes repeated header", func(t *testing.T) {
		pages := pagesOf(
			"ACME BANK\nDeposit of 100 on March 1",
			"ACME BANK\nWithdrawal of 40 on March 3",
			"ACME BANK\nInterest credited 2",
			"ACME BANK\nClosing balance 62",
		)
		res := Canonicalize(pages, false, DefaultThreshold)

		assert.Equal(t, []string{"ACME BANK"}, res.RemovedHeaders)
		assert.NotContains(t, res.Text, "ACME BANK")
		assert.Contains(t, res.Text, "Deposit of 100 on March 1")
		assert.Contains(t, res.Text, "Closing balance 62")
	})

	t.Run("page markers", func(t *testing.T) {
		res := Canonicalize(pagesOf("first", "second"), false, DefaultThreshold)
		require.Len(t, res.Pages, 2)
		assert.Equal(t, "[PAGE 1]\nfirst", res.Pages[0])
		assert.Equal(t, "[PAGE 2]\nsecond", res.Pages[1])
		assert.Equal(t, "[PAGE 1]\nfirst\n\n[PAGE 2]\nsecond", res.Text)
	})

	t.Run("ocr normalization only when flagged", func(t *testing.T) {
		plain := Canonicalize(pagesOf("T0TAL $ 500"), false, DefaultThreshold)
		assert.Contains(t, plain.Text, "T0TAL $ 500")

		ocr := Canonicalize(pagesOf("T0TAL $ 500"), true, DefaultThreshold)
		assert.Contains(t, ocr.Text, "TOTAL $500")
	})

	t.Run("empty document", func(t *testing.T) {
		res := Canonicalize(nil, false, DefaultThreshold)
		assert.Empty(t, res.Text)
		assert.Empty(t, res.Pages)
	})

	t.Run("whitespace collapsed per page", func(t *testing.T) {
		res := Canonicalize(pagesOf("a    b\n\n\n\nc"), false, DefaultThreshold)
		assert.True(t, strings.HasSuffix(res.Text, "a b\n\nc"))
	})
}
