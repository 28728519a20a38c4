package ingest

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"ocr-rag/internal/metrics"
	"ocr-rag/internal/models"
	"ocr-rag/internal/parser"
)

// LoadDocuments extracts every supported file in dir, PDFs first and then
// images. A PDF that cannot be opened is decrypted to a temporary copy and
// extracted once more; files that still fail are skipped. A missing folder or
// one without supported files is an error.
func LoadDocuments(ctx context.Context, dir string, ex Extractor, dec Decrypter) ([]models.Document, error) {
	pdfs, images, err := parser.ListSupportedFiles(dir)
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	for _, path := range pdfs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := loadPDF(ctx, path, ex, dec)
		if err != nil {
			metrics.FilesSkipped.WithLabelValues("pdf").Inc()
			log.Warn().Err(err).Str("file", path).Msg("Failed to process PDF")
			continue
		}
		docs = append(docs, pages...)
		log.Info().Str("file", filepath.Base(path)).Int("pages", len(pages)).Msg("Loaded")
	}

	for _, path := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := ex.ExtractImage(ctx, path)
		if doc == nil {
			metrics.FilesSkipped.WithLabelValues("image").Inc()
			log.Warn().Str("file", path).Msg("No text extracted from image")
			continue
		}
		docs = append(docs, *doc)
		log.Info().Str("file", filepath.Base(path)).Msg("Loaded")
	}
	return docs, nil
}

func loadPDF(ctx context.Context, path string, ex Extractor, dec Decrypter) ([]models.Document, error) {
	pages, err := ex.ExtractPDF(ctx, path)
	if err == nil || !errors.Is(err, parser.ErrOpenPDF) || dec == nil {
		return pages, err
	}

	tmp, cleanup, derr := dec.DecryptToTemp(ctx, path)
	defer cleanup()
	if derr != nil {
		return nil, errors.Join(err, derr)
	}
	log.Info().Str("file", filepath.Base(path)).Msg("Decrypted PDF for extraction")

	pages, err = ex.ExtractPDF(ctx, tmp)
	if err != nil {
		return nil, err
	}
	// provenance stays with the original file
	for i := range pages {
		pages[i].Source = filepath.Base(path)
		pages[i].Path = path
	}
	return pages, nil
}
