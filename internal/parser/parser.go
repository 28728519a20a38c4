package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"ocr-rag/internal/metrics"
	"ocr-rag/internal/models"
)

var (
	// ErrOpenPDF marks a PDF that could not be opened, typically because it is encrypted.
	// Callers may decrypt the file and retry once.
	ErrOpenPDF = errors.New("failed to open pdf")

	ErrDocsDirNotFound  = errors.New("docs folder not found")
	ErrNoSupportedFiles = errors.New("no supported files found")
)

// Options control the text-quality fallback policy.
type Options struct {
	MinTextLen int
	DPI        float64
	Language   string
}

// Extractor turns PDF pages and images into documents, using OCR when the
// native text layer is too sparse.
type Extractor struct {
	opts Options
	open PDFOpener
	ocr  OCR
}

// NewExtractor creates an extractor. A nil opener or OCR engine selects the
// MuPDF/ledongthuc reader and Tesseract respectively.
func NewExtractor(opts Options, open PDFOpener, ocr OCR) *Extractor {
	if opts.MinTextLen <= 0 {
		opts.MinTextLen = models.MinTextLen
	}
	if opts.DPI <= 0 {
		opts.DPI = models.DefaultDPI
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if open == nil {
		open = OpenPDF
	}
	if ocr == nil {
		ocr = NewTesseract()
	}
	return &Extractor{opts: opts, open: open, ocr: ocr}
}

// ExtractPDF returns one document per page that yields text. Pages whose native
// text is shorter than MinTextLen are rendered and OCR'd; the OCR result wins
// only when it is longer.
func (e *Extractor) ExtractPDF(ctx context.Context, path string) ([]models.Document, error) {
	doc, err := e.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenPDF, filepath.Base(path), err)
	}
	defer doc.Close()

	name := filepath.Base(path)
	var docs []models.Document
	for page := 1; page <= doc.NumPages(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, usedOCR := e.pageText(ctx, doc, name, page)
		if text == "" {
			continue
		}
		docs = append(docs, models.Document{
			Content: text,
			Source:  name,
			Path:    path,
			Page:    page,
			UsedOCR: usedOCR,
		})
		metrics.PagesExtracted.WithLabelValues(method(usedOCR)).Inc()
	}
	return docs, nil
}

func (e *Extractor) pageText(ctx context.Context, doc PDFDocument, name string, page int) (string, bool) {
	text, err := doc.PageText(page)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Int("page", page).Msg("Failed to read text layer")
		text = ""
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) >= e.opts.MinTextLen {
		return text, false
	}

	img, err := doc.RenderPNG(page, e.opts.DPI)
	if err == nil {
		var ocrText string
		ocrText, err = e.ocr.ImageText(ctx, img, e.opts.Language)
		ocrText = strings.TrimSpace(ocrText)
		if err == nil && utf8.RuneCountInString(ocrText) > utf8.RuneCountInString(text) {
			return ocrText, true
		}
	}
	if err != nil {
		metrics.OCRFailures.Inc()
		log.Warn().Err(err).Str("file", name).Int("page", page).Msg("OCR failed")
	}
	return text, false
}

// ExtractImage OCRs an image file. It returns nil when OCR fails or finds no text.
func (e *Extractor) ExtractImage(ctx context.Context, path string) *models.Document {
	text, err := e.ocr.FileText(ctx, path, e.opts.Language)
	if err != nil {
		metrics.OCRFailures.Inc()
		log.Warn().Err(err).Str("file", path).Msg("OCR failed for image")
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	metrics.PagesExtracted.WithLabelValues(method(true)).Inc()
	return &models.Document{
		Content: text,
		Source:  filepath.Base(path),
		Path:    path,
		Page:    1,
		UsedOCR: true,
	}
}

// ListSupportedFiles returns the PDFs and images directly inside dir, sorted by
// name. Subdirectories are not visited.
func ListSupportedFiles(dir string) (pdfs []string, images []string, err error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrDocsDirNotFound, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".pdf" {
			pdfs = append(pdfs, path)
			continue
		}
		if _, ok := models.ImageExtensions[ext]; ok {
			images = append(images, path)
		}
	}
	if len(pdfs) == 0 && len(images) == 0 {
		return nil, nil, fmt.Errorf("%w in: %s", ErrNoSupportedFiles, dir)
	}
	return pdfs, images, nil
}

func method(usedOCR bool) string {
	if usedOCR {
		return "ocr"
	}
	return "text"
}
