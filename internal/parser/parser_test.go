package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-rag/internal/models"
)

type fakePDF struct {
	pages     []string
	textErr   map[int]error
	renderErr error
	rendered  []int
}

func (f *fakePDF) NumPages() int { return len(f.pages) }

func (f *fakePDF) PageText(page int) (string, error) {
	if err := f.textErr[page]; err != nil {
		return "", err
	}
	return f.pages[page-1], nil
}

func (f *fakePDF) RenderPNG(page int, _ float64) ([]byte, error) {
	f.rendered = append(f.rendered, page)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte{byte(page)}, nil
}

func (f *fakePDF) Close() error { return nil }

// fakeOCR returns the text configured for the page encoded in the image bytes.
type fakeOCR struct {
	byPage   map[int]string
	byFile   map[string]string
	err      error
	calls    int
	language string
}

func (f *fakeOCR) ImageText(_ context.Context, img []byte, lang string) (string, error) {
	f.calls++
	f.language = lang
	if f.err != nil {
		return "", f.err
	}
	return f.byPage[int(img[0])], nil
}

func (f *fakeOCR) FileText(_ context.Context, path string, lang string) (string, error) {
	f.calls++
	f.language = lang
	if f.err != nil {
		return "", f.err
	}
	return f.byFile[filepath.Base(path)], nil
}

func opener(doc *fakePDF) PDFOpener {
	return func(string) (PDFDocument, error) { return doc, nil }
}

var longText = strings.Repeat("Native text layer content. ", 4)

func TestExtractPDF(t *testing.T) {
	ctx := context.Background()
	opts := Options{MinTextLen: 30, DPI: 300, Language: "eng"}

	t.Run("Should not call OCR when the text layer is long enough", func(t *testing.T) {
		doc := &fakePDF{pages: []string{longText}}
		ocr := &fakeOCR{}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "/in/a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.False(t, docs[0].UsedOCR)
		assert.Equal(t, strings.TrimSpace(longText), docs[0].Content)
		assert.Equal(t, 0, ocr.calls)
		assert.Empty(t, doc.rendered)
	})

	t.Run("Should use OCR text for a scanned page", func(t *testing.T) {
		doc := &fakePDF{pages: []string{longText, "  "}}
		ocr := &fakeOCR{byPage: map[int]string{2: "  Scanned page recognised by OCR.  "}}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "/in/contract.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 2)

		assert.Equal(t, 1, docs[0].Page)
		assert.False(t, docs[0].UsedOCR)

		assert.Equal(t, 2, docs[1].Page)
		assert.True(t, docs[1].UsedOCR)
		assert.Equal(t, "Scanned page recognised by OCR.", docs[1].Content)
		assert.Equal(t, "contract.pdf", docs[1].Source)
		assert.Equal(t, "/in/contract.pdf", docs[1].Path)
		assert.Equal(t, "eng", ocr.language)
	})

	t.Run("Should keep short native text when OCR is not longer", func(t *testing.T) {
		doc := &fakePDF{pages: []string{"Page 7 of 9"}}
		ocr := &fakeOCR{byPage: map[int]string{1: "Pg 7"}}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.False(t, docs[0].UsedOCR)
		assert.Equal(t, "Page 7 of 9", docs[0].Content)
	})

	t.Run("Should skip pages without text after both attempts", func(t *testing.T) {
		doc := &fakePDF{pages: []string{"", longText, " \n "}}
		ocr := &fakeOCR{byPage: map[int]string{}}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, 2, docs[0].Page)
	})

	t.Run("Should fall back to native text when OCR fails", func(t *testing.T) {
		doc := &fakePDF{pages: []string{"short", ""}}
		ocr := &fakeOCR{err: errors.New("tesseract crashed")}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "short", docs[0].Content)
		assert.False(t, docs[0].UsedOCR)
	})

	t.Run("Should treat a render failure like an OCR failure", func(t *testing.T) {
		doc := &fakePDF{pages: []string{"tiny"}, renderErr: errors.New("mupdf error")}
		ocr := &fakeOCR{}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "tiny", docs[0].Content)
		assert.Equal(t, 0, ocr.calls)
	})

	t.Run("Should OCR a page whose text layer cannot be read", func(t *testing.T) {
		doc := &fakePDF{pages: []string{""}, textErr: map[int]error{1: errors.New("bad font")}}
		ocr := &fakeOCR{byPage: map[int]string{1: "Recovered through OCR"}}
		docs, err := NewExtractor(opts, opener(doc), ocr).ExtractPDF(ctx, "a.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.True(t, docs[0].UsedOCR)
	})

	t.Run("Should return a recoverable error when the pdf cannot be opened", func(t *testing.T) {
		open := func(string) (PDFDocument, error) { return nil, errors.New("encrypted") }
		_, err := NewExtractor(opts, open, &fakeOCR{}).ExtractPDF(ctx, "/in/locked.pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOpenPDF)
		assert.Contains(t, err.Error(), "locked.pdf")
	})
}

func TestExtractImage(t *testing.T) {
	ctx := context.Background()
	opts := Options{Language: "deu"}

	t.Run("Should always mark images as OCR on page one", func(t *testing.T) {
		ocr := &fakeOCR{byFile: map[string]string{"scan.png": " Invoice total: 42 EUR \n"}}
		doc := NewExtractor(opts, opener(&fakePDF{}), ocr).ExtractImage(ctx, "/in/scan.png")
		require.NotNil(t, doc)
		assert.Equal(t, models.Document{
			Content: "Invoice total: 42 EUR",
			Source:  "scan.png",
			Path:    "/in/scan.png",
			Page:    1,
			UsedOCR: true,
		}, *doc)
		assert.Equal(t, "deu", ocr.language)
	})

	t.Run("Should skip images without text", func(t *testing.T) {
		ocr := &fakeOCR{byFile: map[string]string{"blank.png": "   "}}
		assert.Nil(t, NewExtractor(opts, opener(&fakePDF{}), ocr).ExtractImage(ctx, "blank.png"))
	})

	t.Run("Should skip images when OCR fails", func(t *testing.T) {
		ocr := &fakeOCR{err: errors.New("unsupported image")}
		assert.Nil(t, NewExtractor(opts, opener(&fakePDF{}), ocr).ExtractImage(ctx, "photo.bmp"))
	})
}

func TestListSupportedFiles(t *testing.T) {
	t.Run("Should list pdfs and images without recursing", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"b.pdf", "A.PDF", "scan.JPG", "x.tiff", "notes.txt", "img.gif"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
		}
		require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nested.pdf", "c.pdf"), []byte("x"), 0o600))

		pdfs, images, err := ListSupportedFiles(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "A.PDF"), filepath.Join(dir, "b.pdf")}, pdfs)
		assert.Equal(t, []string{filepath.Join(dir, "scan.JPG"), filepath.Join(dir, "x.tiff")}, images)
	})

	t.Run("Should fail when the folder is missing", func(t *testing.T) {
		_, _, err := ListSupportedFiles(filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, ErrDocsDirNotFound)
	})

	t.Run("Should fail when no supported file exists", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o600))
		_, _, err := ListSupportedFiles(dir)
		assert.ErrorIs(t, err, ErrNoSupportedFiles)
	})
}
