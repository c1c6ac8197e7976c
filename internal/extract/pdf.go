package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lecpa/docsync/pkg/types"
)

// PDF extracts text with pdftotext, one page per form feed
type PDF struct {
	runner CommandRunner
}

// NewPDF creates a PDF extractor using the system pdftotext
func NewPDF() *PDF {
	return &PDF{runner: ExecRunner{}}
}

// NewPDFWithRunner creates a PDF extractor with a custom command runner
func NewPDFWithRunner(runner CommandRunner) *PDF {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDF{runner: runner}
}

// CheckAvailable verifies pdftotext is on PATH
func CheckAvailable() error {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions describes how to install the PDF tools
func InstallInstructions() string {
	return `PDF extraction and OCR need poppler-utils and tesseract:
  Debian/Ubuntu: apt-get install poppler-utils tesseract-ocr
  macOS:         brew install poppler tesseract
  Synology:      run the agent's processing side in the docsync-server container`
}

// Extract reads every page of the PDF at path
func (p *PDF) Extract(ctx context.Context, path string) (*Result, error) {
	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPDFToolNotFound
		}
		return nil, fmt.Errorf("%w: pdftotext: %v", ErrInvalidDocument, err)
	}

	pages := splitPages(string(out))
	meta := p.info(ctx, path)

	// Trust pdfinfo's count when it sees pages pdftotext emitted nothing for
	if n, err := strconv.Atoi(meta["pages"]); err == nil && n > len(pages) {
		for i := len(pages); i < n; i++ {
			pages = append(pages, types.Page{Number: i + 1})
		}
	}

	return &Result{Pages: pages, PageCount: len(pages), Metadata: meta}, nil
}

// splitPages splits pdftotext output on form feeds. The feed after the last
// page does not start a new page.
func splitPages(text string) []types.Page {
	parts := strings.Split(text, "\f")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]types.Page, len(parts))
	for i, part := range parts {
		pages[i] = types.Page{Number: i + 1, Text: part}
	}
	return pages
}

// info reads title, author, subject and page count from pdfinfo. Missing
// pdfinfo only costs metadata.
func (p *PDF) info(ctx context.Context, path string) map[string]string {
	meta := map[string]string{"format": "pdf"}
	out, err := p.runner.Run(ctx, "pdfinfo", path)
	if err != nil {
		return meta
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Title":
			meta["title"] = value
		case "Author":
			meta["author"] = value
		case "Subject":
			meta["subject"] = value
		case "Pages":
			meta["pages"] = value
		}
	}
	return meta
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
