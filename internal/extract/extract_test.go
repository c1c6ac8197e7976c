package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// mockRunner is a test double for CommandRunner
type mockRunner struct {
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func (m *mockRunner) Run(_ context.Context, name string, _ ...string) ([]byte, error) {
	m.calls = append(m.calls, name)
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	return m.outputs[name], nil
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestPDFExtract(t *testing.T) {
	runner := &mockRunner{outputs: map[string][]byte{
		"pdftotext": []byte("Form W-2\nWages 50,000\f\fPage three\f"),
		"pdfinfo":   []byte("Title:          2024 W-2\nAuthor:         Payroll Co\nPages:          3\n"),
	}}

	result, err := NewPDFWithRunner(runner).Extract(context.Background(), "/tmp/w2.pdf")
	require.NoError(t, err)

	require.Equal(t, 3, result.PageCount)
	assert.Equal(t, 1, result.Pages[0].Number)
	assert.Contains(t, result.Pages[0].Text, "Wages 50,000")
	assert.Empty(t, result.Pages[1].Text)
	assert.Equal(t, "Page three", result.Pages[2].Text)
	assert.Equal(t, "2024 W-2", result.Metadata["title"])
	assert.Equal(t, "Payroll Co", result.Metadata["author"])
}

func TestPDFExtractPadsToPdfinfoPageCount(t *testing.T) {
	runner := &mockRunner{outputs: map[string][]byte{
		"pdftotext": []byte("only text\f"),
		"pdfinfo":   []byte("Pages: 4\n"),
	}}
	result, err := NewPDFWithRunner(runner).Extract(context.Background(), "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, 4, result.PageCount)
	assert.Equal(t, 4, result.Pages[3].Number)
}

func TestPDFExtractErrors(t *testing.T) {
	t.Run("tool missing", func(t *testing.T) {
		runner := &mockRunner{errs: map[string]error{"pdftotext": &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}}
		_, err := NewPDFWithRunner(runner).Extract(context.Background(), "a.pdf")
		assert.ErrorIs(t, err, ErrPDFToolNotFound)
	})

	t.Run("decode failure", func(t *testing.T) {
		runner := &mockRunner{errs: map[string]error{"pdftotext": errors.New("exit status 1")}}
		_, err := NewPDFWithRunner(runner).Extract(context.Background(), "a.pdf")
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("pdfinfo missing keeps text", func(t *testing.T) {
		runner := &mockRunner{
			outputs: map[string][]byte{"pdftotext": []byte("text\f")},
			errs:    map[string]error{"pdfinfo": errors.New("not found")},
		}
		result, err := NewPDFWithRunner(runner).Extract(context.Background(), "a.pdf")
		require.NoError(t, err)
		assert.Equal(t, 1, result.PageCount)
	})
}

func TestErrPDFToolNotFound(t *testing.T) {
	assert.Contains(t, ErrPDFToolNotFound.Error(), "pdftotext")
	assert.Contains(t, InstallInstructions(), "poppler")
}

func TestDOCXExtract(t *testing.T) {
	path := writeZip(t, "letter.docx", map[string]string{
		"word/document.xml": `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Engagement</w:t></w:r><w:r><w:t xml:space="preserve"> Letter</w:t></w:r></w:p>
    <w:p></w:p>
    <w:tbl><w:tr><w:tc><w:p><w:r><w:t>Fee</w:t><w:tab/><w:t>$500</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
  </w:body>
</w:document>`,
		"docProps/core.xml": `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
  xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Engagement</dc:title><dc:creator>LeCPA</dc:creator>
</cp:coreProperties>`,
	})

	result, err := NewDOCX().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, "Engagement Letter\n\nFee\t$500", result.Pages[0].Text)
	assert.Equal(t, "Engagement", result.Metadata["title"])
	assert.Equal(t, "LeCPA", result.Metadata["author"])
}

func TestDOCXExtractInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.docx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := NewDOCX().Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	empty := writeZip(t, "empty.docx", map[string]string{"other.xml": "<a/>"})
	_, err = NewDOCX().Extract(context.Background(), empty)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestXLSXExtract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetName("Sheet1", "Income"))
	_, err := wb.NewSheet("Empty")
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue("Income", "A1", "Payer"))
	require.NoError(t, wb.SetCellValue("Income", "B1", "Amount"))
	require.NoError(t, wb.SetCellValue("Income", "A3", "Acme Corp"))
	require.NoError(t, wb.SetCellValue("Income", "C3", 1200.5))
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	result, err := NewXLSX().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, result.PageCount)
	assert.Equal(t, "[SHEET: Income]\nPayer\tAmount\nAcme Corp\t\t1200.5", result.Pages[0].Text)
	assert.Equal(t, 1, result.Pages[0].Number)
	assert.Equal(t, "[SHEET: Empty]\n", result.Pages[1].Text)
	assert.Equal(t, "Income,Empty", result.Metadata["sheets"])
}

func TestXLSXExtract_NotAWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := NewXLSX().Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(&mockRunner{})
	assert.IsType(t, &DOCX{}, r.For(MimeDOCX))
	assert.IsType(t, &DOCX{}, r.For(MimeDOC))
	assert.IsType(t, &XLSX{}, r.For(MimeXLSX))
	assert.IsType(t, &XLSX{}, r.For(MimeXLS))
	assert.IsType(t, &PDF{}, r.For(MimePDF))
	assert.IsType(t, &PDF{}, r.For("application/octet-stream"))

	result, err := r.Extract(context.Background(), "image/png", "scan.png")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, 0, result.CharCount())
}
