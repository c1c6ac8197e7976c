package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
)

func TestNeedsOCR(t *testing.T) {
	cfg := config.Default().OCR

	tests := []struct {
		name      string
		chars     int
		fileSize  int64
		pageCount int
		want      bool
	}{
		{"rich text", 5000, 100_000, 2, false},
		{"few chars per page", 300, 1000, 2, true},
		{"low text ratio", 1000, 2_000_000, 1, true},
		{"empty document", 0, 0, 0, true},
		{"exactly at thresholds", 200, 200_000, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsOCR(cfg, tt.chars, tt.fileSize, tt.pageCount))
		})
	}

	t.Run("disabled", func(t *testing.T) {
		off := cfg
		off.Enabled = false
		assert.False(t, NeedsOCR(off, 0, 1, 1))
	})

	t.Run("always", func(t *testing.T) {
		always := cfg
		always.Mode = ModeAlways
		assert.True(t, NeedsOCR(always, 5000, 100, 1))
	})
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t96.5\tForm\n" +
	"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t90\tW-2\n" +
	"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t12\t~~\n" +
	"5\t1\t1\t1\t3\t1\t0\t0\t10\t10\t81.5\tWages\n"

func TestParseAndAssemble(t *testing.T) {
	words := parseTSV([]byte(sampleTSV))
	require.Len(t, words, 4)

	text, conf := assemble(words, 30)
	assert.Equal(t, "Form W-2\nWages", text)
	assert.InDelta(t, (96.5+90+81.5)/3, conf, 1e-9)

	text, conf = assemble(words, 99)
	assert.Empty(t, text)
	assert.Equal(t, 0.0, conf)
}

// fakeRunner renders blank pages for pdftoppm and returns canned TSV for tesseract
type fakeRunner struct {
	pages      int
	tsv        string
	failOn     string
	tesseracts int
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	if name == f.failOn {
		return nil, errors.New("exit status 1")
	}
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			if err := writePNG(prefix+"-"+string(rune('0'+i))+".png", 200); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "tesseract":
		f.tesseracts++
		return []byte(f.tsv), nil
	}
	return nil, errors.New("unexpected command " + name)
}

func writePNG(path string, gray uint8) error {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: gray, G: gray, B: gray, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func TestEngineRun(t *testing.T) {
	cfg := config.Default().OCR
	runner := &fakeRunner{pages: 2, tsv: sampleTSV}
	engine := NewEngine(cfg, runner, t.TempDir(), nil)

	result, err := engine.Run(context.Background(), "/nas/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, result.PageCount)
	require.Len(t, result.Pages, 2)
	assert.Equal(t, 2, result.Pages[1].Number)
	assert.Equal(t, "Form W-2\nWages", result.Pages[0].Text)
	assert.InDelta(t, 89.333, result.Confidence, 0.01)
	assert.Equal(t, 2, runner.tesseracts)
}

func TestEngineRunImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.png")
	require.NoError(t, writePNG(path, 10))

	runner := &fakeRunner{tsv: sampleTSV}
	result, err := NewEngine(config.Default().OCR, runner, t.TempDir(), nil).Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)
}

func TestEngineRunFailures(t *testing.T) {
	cfg := config.Default().OCR

	t.Run("rasterize", func(t *testing.T) {
		runner := &fakeRunner{pages: 1, failOn: "pdftoppm"}
		_, err := NewEngine(cfg, runner, t.TempDir(), nil).Run(context.Background(), "a.pdf")
		assert.ErrorIs(t, err, ErrOCRFailed)
	})

	t.Run("no pages", func(t *testing.T) {
		runner := &fakeRunner{pages: 0}
		_, err := NewEngine(cfg, runner, t.TempDir(), nil).Run(context.Background(), "a.pdf")
		assert.ErrorIs(t, err, ErrOCRFailed)
	})

	t.Run("recognize", func(t *testing.T) {
		runner := &fakeRunner{pages: 1, failOn: "tesseract"}
		_, err := NewEngine(cfg, runner, t.TempDir(), nil).Run(context.Background(), "a.pdf")
		assert.ErrorIs(t, err, ErrOCRFailed)
		assert.True(t, strings.Contains(err.Error(), "page 1"))
	})
}

func TestPreprocess(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	img.Set(1, 0, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	out := preprocess(img, true, 128).(*image.Gray)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(1, 0).Y)

	gray := preprocess(img, true, 0).(*image.Gray)
	assert.Equal(t, uint8(100), gray.GrayAt(0, 0).Y)

	assert.Same(t, img, preprocess(img, false, 0))
}
