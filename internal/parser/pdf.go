package parser

import (
	"errors"
	"fmt"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// PDFDocument exposes the per-page operations the extractor needs. Pages are 1-based.
type PDFDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	RenderPNG(page int, dpi float64) ([]byte, error)
	Close() error
}

type PDFOpener func(path string) (PDFDocument, error)

// pdfFile reads the text layer with ledongthuc/pdf and rasterises pages with
// MuPDF only when a page needs OCR.
type pdfFile struct {
	path   string
	file   *os.File
	reader *pdf.Reader
	raster *fitz.Document
}

// OpenPDF opens path for extraction. Encrypted files that cannot be read with an
// empty password fail here.
func OpenPDF(path string) (PDFDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	reader, err := newReader(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &pdfFile{path: path, file: f, reader: reader}, nil
}

// ledongthuc/pdf panics on some malformed inputs
func newReader(f *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(f, size)
}

func (p *pdfFile) NumPages() int {
	return p.reader.NumPage()
}

func (p *pdfFile) PageText(page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read page %d: %v", page, r)
		}
	}()
	pg := p.reader.Page(page)
	if pg.V.IsNull() {
		return "", nil
	}
	return pg.GetPlainText(nil)
}

func (p *pdfFile) RenderPNG(page int, dpi float64) ([]byte, error) {
	if p.raster == nil {
		doc, err := fitz.New(p.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open pdf for rendering: %w", err)
		}
		p.raster = doc
	}
	return p.raster.ImagePNG(page-1, dpi)
}

func (p *pdfFile) Close() error {
	var errs []error
	if p.raster != nil {
		errs = append(errs, p.raster.Close())
	}
	errs = append(errs, p.file.Close())
	return errors.Join(errs...)
}
