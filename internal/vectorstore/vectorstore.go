package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ocr-rag/internal/chromemdb"
	"ocr-rag/internal/config"
	"ocr-rag/internal/db"
	"ocr-rag/internal/embedding"
	"ocr-rag/internal/helper"
	"ocr-rag/internal/metrics"
	"ocr-rag/internal/models"
)

var ErrNoChunks = errors.New("no chunks to index")

// Backend stores embedded records and answers nearest-neighbour queries.
type Backend interface {
	Name() string
	Upsert(ctx context.Context, records []models.Record) error
	Search(ctx context.Context, query []float32, k int) ([]models.RetrievedChunk, error)
	Close() error
}

type exporter interface {
	Export() (string, error)
}

type (
	NetworkOpener func(ctx context.Context) (Backend, error)
	LocalOpener   func() (Backend, error)
)

// Builder embeds chunks and writes them to the networked backend when one is
// configured, falling back to the local store once if it is unreachable.
type Builder struct {
	embedder    embedding.Embedder
	collection  string
	openNetwork NetworkOpener
	openLocal   LocalOpener
}

type Option func(*Builder)

// WithNetworkOpener replaces the networked backend. A nil opener disables it.
func WithNetworkOpener(open NetworkOpener) Option {
	return func(b *Builder) { b.openNetwork = open }
}

func WithLocalOpener(open LocalOpener) Option {
	return func(b *Builder) { b.openLocal = open }
}

func NewBuilder(cfg *config.Config, embedder embedding.Embedder, opts ...Option) *Builder {
	b := &Builder{
		embedder:   embedder,
		collection: cfg.RAG.CollectionName,
		openLocal: func() (Backend, error) {
			return chromemdb.NewStore(cfg.RAG.PersistDir, cfg.RAG.CollectionName, cfg.RAG.EncryptionKey)
		},
	}
	if cfg.UsePostgres() {
		dbOpts := db.Options{
			DSN:        strings.TrimSpace(cfg.Database.URL),
			Collection: cfg.RAG.CollectionName,
			Debug:      cfg.Database.Debug,
		}
		b.openNetwork = func(ctx context.Context) (Backend, error) {
			return db.Open(ctx, dbOpts)
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build embeds chunks once and persists them. Embedding errors, including
// embedding.ErrQuotaExceeded, are returned unchanged.
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	backend, fellBack, err := b.selectBackend(ctx)
	if err != nil {
		return nil, err
	}

	records, err := b.embed(ctx, chunks)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	err = backend.Upsert(ctx, records)
	if err != nil && !fellBack && db.IsUnavailable(err) {
		_ = backend.Close()
		backend, err = b.fallback(err)
		if err != nil {
			return nil, err
		}
		err = backend.Upsert(ctx, records)
	}
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to write records to %s: %w", backend.Name(), err)
	}

	metrics.ChunksIndexed.WithLabelValues(backend.Name()).Add(float64(len(records)))
	log.Info().Str("backend", backend.Name()).Str("collection", b.collection).Int("chunks", len(records)).Msg("Vector index built")

	if exp, ok := backend.(exporter); ok {
		b.export(exp)
	}
	return &Index{backend: backend, embedder: b.embedder}, nil
}

func (b *Builder) selectBackend(ctx context.Context) (Backend, bool, error) {
	if b.openNetwork == nil {
		backend, err := b.openLocal()
		if err != nil {
			return nil, false, fmt.Errorf("failed to open local vector store: %w", err)
		}
		return backend, false, nil
	}

	backend, err := b.openNetwork(ctx)
	if err == nil {
		return backend, false, nil
	}
	if !errors.Is(err, db.ErrUnavailable) {
		return nil, false, fmt.Errorf("failed to open vector database: %w", err)
	}
	backend, err = b.fallback(err)
	return backend, true, err
}

func (b *Builder) fallback(cause error) (Backend, error) {
	metrics.BackendFallbacks.Inc()
	log.Warn().Err(cause).Msg("Vector database unavailable, falling back to local store")
	backend, err := b.openLocal()
	if err != nil {
		return nil, fmt.Errorf("failed to open local vector store: %w", err)
	}
	return backend, nil
}

func (b *Builder) embed(ctx context.Context, chunks []models.Chunk) ([]models.Record, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", embedding.ErrProvider, len(chunks), len(vectors))
	}

	records := make([]models.Record, len(chunks))
	for i, c := range chunks {
		records[i] = models.Record{
			ID:        helper.RecordID(b.collection, c),
			Content:   c.Content,
			Embedding: vectors[i],
			Metadata:  c.Metadata,
		}
	}
	return records, nil
}

func (b *Builder) export(exp exporter) {
	path, err := exp.Export()
	if err != nil {
		log.Debug().Err(err).Msg("Skipping vector store export")
		return
	}
	log.Info().Str("file", path).Msg("Exported vector store snapshot")
}

// Index is a built, read-only vector index.
type Index struct {
	backend  Backend
	embedder embedding.Embedder
}

func NewIndex(backend Backend, embedder embedding.Embedder) *Index {
	return &Index{backend: backend, embedder: embedder}
}

// Backend returns the name of the backend holding the records.
func (i *Index) Backend() string { return i.backend.Name() }

// Query returns up to k chunks ranked by similarity to text, best first.
func (i *Index) Query(ctx context.Context, text string, k int) ([]models.RetrievedChunk, error) {
	vector, err := i.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	results, err := i.backend.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", i.backend.Name(), err)
	}
	return results, nil
}

func (i *Index) Close() error { return i.backend.Close() }
