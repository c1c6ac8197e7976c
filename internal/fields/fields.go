// Package fields extracts structured values from tax forms once their
// documents are ready. W-2, 1099 and K-1 documents are detected from tags or
// filenames, their chunk text is sent to the model router's "extraction"
// route, and the parsed JSON is stored once per document.
package fields

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/llm"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

// Document types
const (
	TypeW2   = "W2"
	Type1099 = "1099"
	TypeK1   = "K1"
)

// Confidence levels
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

// Task is the router task used for extraction
const Task = "extraction"

// Outcome statuses
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

var autoExtractTags = map[string]bool{"W2": true, "W-2": true, "1099": true, "K1": true, "K-1": true}

// ShouldAutoExtract reports whether any tag marks a supported tax form
func ShouldAutoExtract(tags []string) bool {
	for _, t := range tags {
		if autoExtractTags[t] {
			return true
		}
	}
	return false
}

// DetectDocumentType finds the form type from tags, then from the filename.
// Returns "" when neither identifies a supported form.
func DetectDocumentType(tags []string, filename string) string {
	normalized := make(map[string]bool, len(tags))
	any1099 := false
	for _, t := range tags {
		n := strings.ReplaceAll(strings.ToUpper(t), "-", "")
		normalized[n] = true
		if strings.Contains(n, "1099") {
			any1099 = true
		}
	}
	switch {
	case normalized["W2"]:
		return TypeW2
	case any1099:
		return Type1099
	case normalized["K1"]:
		return TypeK1
	}

	upper := strings.ToUpper(filename)
	switch {
	case strings.Contains(upper, "W2"), strings.Contains(upper, "W-2"):
		return TypeW2
	case strings.Contains(upper, "1099"):
		return Type1099
	case strings.Contains(upper, "K1"), strings.Contains(upper, "K-1"):
		return TypeK1
	}
	return ""
}

// Generator is the part of the model router the extractor uses
type Generator interface {
	Generate(ctx context.Context, task string, req llm.Request) (*llm.Response, error)
}

// Result is the stored extraction
type Result struct {
	DocumentType  string         `json:"document_type"`
	Fields        map[string]any `json:"fields"`
	Confidence    string         `json:"confidence"`
	Anomalies     []string       `json:"anomalies"`
	NeedsReview   bool           `json:"needs_review"`
	ReviewReasons []string       `json:"review_reasons"`
	ExtractedAt   time.Time      `json:"extracted_at"`
}

// Outcome reports what one extraction request did
type Outcome struct {
	Status       string
	Reason       string
	DocumentID   string
	DocumentType string
	Result       *Result
}

// Extractor runs field extraction for ready documents
type Extractor struct {
	store     storage.Storage
	generator Generator
	logger    *zap.Logger
}

// NewExtractor creates an Extractor
func NewExtractor(store storage.Storage, generator Generator, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{store: store, generator: generator, logger: logger}
}

// Extract extracts fields from one document. docType overrides detection;
// force re-extracts when a stored result exists.
func (e *Extractor) Extract(ctx context.Context, documentID, docType string, force bool) (*Outcome, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	if doc.Status != types.StatusReady {
		e.logger.Warn("document not ready for field extraction",
			zap.String("document_id", documentID),
			zap.String("status", string(doc.Status)))
		return skipped(documentID, fmt.Sprintf("document status is %s, expected ready", doc.Status)), nil
	}

	if !force {
		_, err := e.store.GetExtraction(ctx, documentID)
		if err == nil {
			return skipped(documentID, "extraction already exists"), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to check extraction: %w", err)
		}
	}

	if docType == "" {
		docType = DetectDocumentType(doc.Tags, doc.Filename)
	}
	if docType == "" {
		return skipped(documentID, "unable to determine document type"), nil
	}

	text, err := e.documentText(ctx, documentID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("extracting document fields",
		zap.String("document_id", documentID),
		zap.String("document_type", docType),
		zap.Int("text_length", len(text)))

	system, prompt := prompts(docType, text)
	zero := 0.0
	resp, err := e.generator.Generate(ctx, Task, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: &zero,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate extraction: %w", err)
	}

	result := parseResult(docType, resp.Text)
	result.ExtractedAt = time.Now().UTC()

	content, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction: %w", err)
	}
	if err := e.store.SaveExtraction(ctx, &storage.Extraction{
		DocumentID:   documentID,
		DocumentType: docType,
		Provider:     resp.Provider,
		Model:        resp.Model,
		Content:      string(content),
	}); err != nil {
		return nil, fmt.Errorf("failed to save extraction: %w", err)
	}

	e.logger.Info("field extraction complete",
		zap.String("document_id", documentID),
		zap.String("document_type", docType),
		zap.String("confidence", result.Confidence),
		zap.Int("anomalies", len(result.Anomalies)))

	return &Outcome{Status: StatusSuccess, DocumentID: documentID, DocumentType: docType, Result: result}, nil
}

// AutoExtract extracts only when the document's tags mark a supported form
func (e *Extractor) AutoExtract(ctx context.Context, documentID string) (*Outcome, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if !ShouldAutoExtract(doc.Tags) {
		return skipped(documentID, fmt.Sprintf("tags %v do not match auto-extract criteria", doc.Tags)), nil
	}
	return e.Extract(ctx, documentID, "", false)
}

func (e *Extractor) documentText(ctx context.Context, documentID string) (string, error) {
	chunks, err := e.store.ListChunks(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("no text found for document %s", documentID)
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n"), nil
}

func skipped(documentID, reason string) *Outcome {
	return &Outcome{Status: StatusSkipped, Reason: reason, DocumentID: documentID}
}

func prompts(docType, text string) (system, user string) {
	switch {
	case docType == TypeW2:
		return w2Prompt, "Extract all fields from this W-2 document.\n\nDocument text:\n" + text + "\n\nRespond with JSON only."
	case strings.HasPrefix(docType, Type1099):
		return form1099Prompt, "Extract all fields from this 1099 document.\n\nDocument text:\n" + text +
			"\n\nIdentify the 1099 type and extract all relevant fields. Respond with JSON only."
	case docType == TypeK1:
		return k1Prompt, "Extract all fields from this K-1 document.\n\nDocument text:\n" + text + "\n\nRespond with JSON only."
	default:
		return fmt.Sprintf(genericPrompt, docType), "Document text:\n" + text
	}
}
