package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/lecpa/docsync/pkg/types"
)

// DOCX extracts paragraph text from word/document.xml. Word has no stable
// page model, so the whole document is one page.
type DOCX struct{}

// NewDOCX creates a new DOCX extractor
func NewDOCX() *DOCX {
	return &DOCX{}
}

// Extract reads the document at path
func (d *DOCX) Extract(_ context.Context, path string) (*Result, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer func() { _ = reader.Close() }()

	body, err := readZipFile(&reader.Reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	paragraphs, err := parseParagraphs(body)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"format": "docx"}
	if core, err := readZipFile(&reader.Reader, "docProps/core.xml"); err == nil {
		var props coreProperties
		if xml.Unmarshal(core, &props) == nil {
			meta["title"] = strings.TrimSpace(props.Title)
			meta["author"] = strings.TrimSpace(props.Creator)
		}
	}

	text := strings.Join(paragraphs, "\n\n")
	return &Result{
		Pages:     []types.Page{{Number: 1, Text: text}},
		PageCount: 1,
		Metadata:  meta,
	}, nil
}

// coreProperties represents docProps/core.xml
type coreProperties struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
}

// parseParagraphs walks the XML token stream so text inside tables and text
// boxes is kept. Empty paragraphs are dropped.
func parseParagraphs(content []byte) ([]string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(content)))
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br", "cr":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

// readZipFile returns the contents of one archive member
func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("%w: missing %s", ErrInvalidDocument, name)
}
