package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lecpa/docsync/pkg/types"
)

// XLSX extracts cell values, one page per sheet in workbook order. Rows become
// tab-delimited lines and blank rows are dropped.
type XLSX struct{}

// NewXLSX creates a new XLSX extractor
func NewXLSX() *XLSX {
	return &XLSX{}
}

// Extract reads every sheet of the workbook at path
func (x *XLSX) Extract(_ context.Context, filePath string) (*Result, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	pages := make([]types.Page, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %v", ErrInvalidDocument, name, err)
		}

		var lines []string
		for _, row := range rows {
			if strings.TrimSpace(strings.Join(row, "")) == "" {
				continue
			}
			lines = append(lines, strings.Join(row, "\t"))
		}
		pages = append(pages, types.Page{
			Number: len(pages) + 1,
			Text:   "[SHEET: " + name + "]\n" + strings.Join(lines, "\n"),
		})
	}

	return &Result{
		Pages:     pages,
		PageCount: len(pages),
		Metadata:  map[string]string{"format": "xlsx", "sheets": strings.Join(names, ",")},
	}, nil
}
