// Package ocr decides when extracted text is too thin to trust and recovers
// page text from rendered images with tesseract.
package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/extract"
	"github.com/lecpa/docsync/pkg/types"
)

// ErrOCRFailed wraps any rasterization or recognition failure
var ErrOCRFailed = errors.New("ocr failed")

// Mode values
const (
	ModeFallbackOnly = "fallback_only"
	ModeAlways       = "always"
)

// NeedsOCR reports whether extracted text looks like a scan. It fires when
// either the average characters per page or characters per byte of file
// falls below the configured thresholds.
func NeedsOCR(cfg config.OCRConfig, charCount int, fileSize int64, pageCount int) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.Mode != ModeFallbackOnly {
		return true
	}
	avgCharsPerPage := float64(charCount) / float64(max(pageCount, 1))
	textRatio := float64(charCount) / float64(max(fileSize, 1))
	return avgCharsPerPage < cfg.MinCharsPerPage || textRatio < cfg.MinTextRatio
}

// Result is OCR output with the mean confidence of the pages that kept words
type Result struct {
	Pages      []types.Page
	PageCount  int
	Confidence float64
}

// Engine runs pdftoppm and tesseract
type Engine struct {
	cfg     config.OCRConfig
	runner  extract.CommandRunner
	tempDir string
	logger  *zap.Logger
}

// NewEngine creates an OCR engine. A nil runner uses os/exec.
func NewEngine(cfg config.OCRConfig, runner extract.CommandRunner, tempDir string, logger *zap.Logger) *Engine {
	if runner == nil {
		runner = extract.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, runner: runner, tempDir: tempDir, logger: logger}
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true}

// Run recognizes every page of the PDF or image at path
func (e *Engine) Run(ctx context.Context, path string) (*Result, error) {
	workDir, err := os.MkdirTemp(e.tempDir, "docsync-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCRFailed, err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var images []string
	if imageExts[strings.ToLower(filepath.Ext(path))] {
		images = []string{path}
	} else {
		images, err = e.rasterize(ctx, path, workDir)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{PageCount: len(images)}
	var confidences []float64
	for i, img := range images {
		if e.cfg.Grayscale || e.cfg.Threshold > 0 {
			processed := filepath.Join(workDir, fmt.Sprintf("pre-%04d.png", i+1))
			err := preprocessFile(img, processed, e.cfg.Grayscale, e.cfg.Threshold)
			switch {
			case err == nil:
				img = processed
			case errors.Is(err, image.ErrFormat):
				// Formats the decoder cannot read go to tesseract untouched
			default:
				return nil, fmt.Errorf("%w: preprocess page %d: %v", ErrOCRFailed, i+1, err)
			}
		}

		text, conf, err := e.recognize(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrOCRFailed, i+1, err)
		}
		e.logger.Debug("ocr page processed",
			zap.Int("page", i+1),
			zap.Int("total", len(images)),
			zap.Float64("confidence", conf))

		result.Pages = append(result.Pages, types.Page{Number: i + 1, Text: text})
		if text != "" {
			confidences = append(confidences, conf)
		}
	}

	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		result.Confidence = sum / float64(len(confidences))
	}
	return result, nil
}

// rasterize renders each PDF page to a PNG at the configured DPI
func (e *Engine) rasterize(ctx context.Context, pdfPath, workDir string) ([]string, error) {
	prefix := filepath.Join(workDir, "page")
	dpi := e.cfg.DPI
	if dpi <= 0 {
		dpi = 300
	}
	if _, err := e.runner.Run(ctx, "pdftoppm", "-r", strconv.Itoa(dpi), "-png", pdfPath, prefix); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v", ErrOCRFailed, err)
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCRFailed, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no pages rendered", ErrOCRFailed)
	}
	// pdftoppm zero-pads page numbers to a common width, so lexical order is page order
	sort.Strings(images)
	return images, nil
}

// recognize runs tesseract in TSV mode and keeps words at or above the
// minimum confidence. Lines are rebuilt from tesseract's block/paragraph/line ids.
func (e *Engine) recognize(ctx context.Context, imagePath string) (string, float64, error) {
	lang := e.cfg.Language
	if lang == "" {
		lang = "eng"
	}
	out, err := e.runner.Run(ctx, "tesseract", imagePath, "stdout",
		"-l", lang,
		"--psm", strconv.Itoa(e.cfg.PSM),
		"--oem", strconv.Itoa(e.cfg.OEM),
		"tsv")
	if err != nil {
		return "", 0, fmt.Errorf("tesseract: %w", err)
	}
	words := parseTSV(out)
	text, conf := assemble(words, e.cfg.MinConfidence)
	return text, conf, nil
}

// word is one recognized word with the ids of the line it belongs to
type word struct {
	block, par, line int
	conf             float64
	text             string
}

// parseTSV reads tesseract's TSV output. Rows with confidence -1 are layout
// rows, not words.
func parseTSV(out []byte) []word {
	var words []word
	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}
		block, _ := strconv.Atoi(fields[2])
		par, _ := strconv.Atoi(fields[3])
		line, _ := strconv.Atoi(fields[4])
		words = append(words, word{block: block, par: par, line: line, conf: conf, text: text})
	}
	return words
}

// assemble joins kept words into lines and returns the mean kept confidence
func assemble(words []word, minConfidence float64) (string, float64) {
	var (
		lines   []string
		current []string
		sum     float64
		kept    int
		lastKey [3]int
	)
	for _, w := range words {
		if w.conf < minConfidence {
			continue
		}
		key := [3]int{w.block, w.par, w.line}
		if kept > 0 && key != lastKey {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
		current = append(current, w.text)
		lastKey = key
		sum += w.conf
		kept++
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	if kept == 0 {
		return "", 0
	}
	return strings.Join(lines, "\n"), sum / float64(kept)
}
