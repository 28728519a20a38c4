package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"ocr-rag/internal/models"
	"ocr-rag/internal/parser"
	"ocr-rag/internal/vectorstore"
)

var (
	ErrInProgress  = errors.New("ingestion already in progress")
	ErrNoDocuments = errors.New("no text extracted from documents")
)

type Extractor interface {
	ExtractPDF(ctx context.Context, path string) ([]models.Document, error)
	ExtractImage(ctx context.Context, path string) *models.Document
}

type Decrypter interface {
	DecryptBatch(ctx context.Context) ([]string, error)
	DecryptToTemp(ctx context.Context, path string) (string, func(), error)
}

type Chunker interface {
	Chunk(docs []models.Document) ([]models.Chunk, error)
}

type IndexBuilder interface {
	Build(ctx context.Context, chunks []models.Chunk) (*vectorstore.Index, error)
}

type Options struct {
	DocsDir      string
	DecryptedDir string
	// ExportPath, when set, writes extracted text there and skips indexing.
	ExportPath   string
	BatchDecrypt bool
}

type Result struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Backend   string `json:"backend,omitempty"`
	Exported  string `json:"exported,omitempty"`
}

// Orchestrator runs discovery, extraction, chunking and index construction.
type Orchestrator struct {
	opts      Options
	extractor Extractor
	decrypter Decrypter
	chunker   Chunker
	builder   IndexBuilder
	handle    *vectorstore.Handle
	running   atomic.Bool
}

func NewOrchestrator(opts Options, extractor Extractor, decrypter Decrypter, chunker Chunker, builder IndexBuilder, handle *vectorstore.Handle) *Orchestrator {
	return &Orchestrator{
		opts:      opts,
		extractor: extractor,
		decrypter: decrypter,
		chunker:   chunker,
		builder:   builder,
		handle:    handle,
	}
}

// Run ingests the documents folder once. A concurrent call returns ErrInProgress.
// On failure the handle is marked failed and the error is returned; quota
// errors from the embedding provider remain detectable with errors.Is.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer o.running.Store(false)

	res, err := o.run(ctx)
	if err != nil && o.opts.ExportPath == "" {
		o.handle.SetFailed(err)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	docsDir := o.opts.DocsDir
	if o.opts.BatchDecrypt && o.decrypter != nil {
		decrypted, err := o.decrypter.DecryptBatch(ctx)
		if err != nil {
			return nil, fmt.Errorf("batch decryption failed: %w", err)
		}
		if len(decrypted) > 0 {
			docsDir = o.opts.DecryptedDir
			log.Info().Str("dir", docsDir).Int("files", len(decrypted)).Msg("Batch decryption: loading from decrypted folder")
		}
	}

	docs, err := LoadDocuments(ctx, docsDir, o.extractor, o.decrypter)
	if err != nil {
		return nil, err
	}
	res := &Result{Documents: len(docs)}

	if o.opts.ExportPath != "" {
		if err := parser.ExportText(docs, o.opts.ExportPath); err != nil {
			return nil, err
		}
		res.Exported = o.opts.ExportPath
		log.Info().Str("file", o.opts.ExportPath).Int("documents", len(docs)).Msg("Export-only mode: skipped vector index")
		return res, nil
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, docsDir)
	}

	chunks, err := o.chunker.Chunk(docs)
	if err != nil {
		return nil, err
	}
	res.Chunks = len(chunks)

	index, err := o.builder.Build(ctx, chunks)
	if err != nil {
		return nil, err
	}
	res.Backend = index.Backend()
	o.handle.SetReady(index)

	log.Info().Int("documents", res.Documents).Int("chunks", res.Chunks).Str("backend", res.Backend).Msg("Ingestion complete")
	return res, nil
}
