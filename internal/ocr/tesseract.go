package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tesseract rasterizes page 1 with pdftoppm and recognizes it with the
// tesseract CLI. Raster artifacts are deleted unconditionally.
type Tesseract struct {
	pdftoppmPath  string
	tesseractPath string
	lang          string
	dpi           int
	tempDir       string
}

// Options configures the Tesseract recognizer. Empty fields take defaults
// (binaries from PATH, Norwegian language pack, 300 DPI).
type Options struct {
	PdftoppmPath  string
	TesseractPath string
	Lang          string
	DPI           int
	TempDir       string
}

// NewTesseract creates a CLI-backed Recognizer.
func NewTesseract(opts Options) *Tesseract {
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = "pdftoppm"
	}
	if opts.TesseractPath == "" {
		opts.TesseractPath = "tesseract"
	}
	if opts.Lang == "" {
		opts.Lang = "nor"
	}
	if opts.DPI < 300 {
		opts.DPI = 300
	}
	return &Tesseract{
		pdftoppmPath:  opts.PdftoppmPath,
		tesseractPath: opts.TesseractPath,
		lang:          opts.Lang,
		dpi:           opts.DPI,
		tempDir:       opts.TempDir,
	}
}

// RecognizeFirstPage rasterizes page 1 of pdfPath and returns recognized
// text. Failures are returned for logging but are non-fatal to the
// pipeline, which proceeds with whatever text it already has.
func (t *Tesseract) RecognizeFirstPage(ctx context.Context, pdfPath string) (string, error) {
	rasterDir, err := os.MkdirTemp(t.tempDir, "regnskap-raster-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create raster dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(rasterDir); rmErr != nil {
			zap.L().Warn("ocr: raster cleanup failed", zap.String("dir", rasterDir), zap.Error(rmErr))
		}
	}()

	prefix := filepath.Join(rasterDir, "page")
	raster := exec.CommandContext(ctx, t.pdftoppmPath,
		"-f", "1", "-l", "1",
		"-r", fmt.Sprintf("%d", t.dpi),
		"-png", pdfPath, prefix,
	)
	var rasterErr bytes.Buffer
	raster.Stderr = &rasterErr
	if err := raster.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, rasterErr.String())
	}

	// pdftoppm pads the page suffix, so glob instead of guessing it.
	images, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(images) == 0 {
		return "", eris.Errorf("ocr: no raster output for %s", pdfPath)
	}

	recognize := exec.CommandContext(ctx, t.tesseractPath, images[0], "stdout", "-l", t.lang)
	var stdout, stderr bytes.Buffer
	recognize.Stdout = &stdout
	recognize.Stderr = &stderr
	if err := recognize.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed for %s: %s", images[0], stderr.String())
	}

	return stdout.String(), nil
}
