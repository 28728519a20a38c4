package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"ocr-rag/internal/models"
)

const (
	BackendName = "chromem"
	compress    = false
)

var errNoEmbedding = errors.New("chromem: records must carry precomputed embeddings")

// Store is the local, disk-persisted vector backend.
type Store struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	encryptionKey string
}

// NewStore opens (or creates) the persistent database at dbPath and the named collection.
// When encryptionKey is set, Export writes an encrypted snapshot of the collection.
func NewStore(dbPath, collectionName, encryptionKey string) (*Store, error) {
	db, err := chromem.NewPersistentDB(dbPath, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	c, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	log.Info().Str("path", dbPath).Str("collection", collectionName).Int("documents", c.Count()).Msg("Opened local vector store")
	return &Store{
		db:            db,
		collection:    c,
		dbPath:        dbPath,
		encryptionKey: encryptionKey,
	}, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (s *Store) Name() string { return BackendName }

// Count returns the number of stored records.
func (s *Store) Count() int { return s.collection.Count() }

// Upsert adds records; an existing record with the same id is replaced.
func (s *Store) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s: %w", r.ID, errNoEmbedding)
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  encodeMetadata(r.Metadata),
			Embedding: r.Embedding,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns up to k records ordered by cosine similarity.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.RetrievedChunk, error) {
	n := min(k, s.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := s.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	chunks := make([]models.RetrievedChunk, 0, len(results))
	for i, r := range results {
		chunks = append(chunks, models.RetrievedChunk{
			Content:  r.Content,
			Metadata: decodeMetadata(r.Metadata),
			Rank:     i + 1,
			Score:    r.Similarity,
		})
	}
	return chunks, nil
}

// Export writes the collection to <dbPath>/<collection>.chromem, encrypted with the configured key.
func (s *Store) Export() (string, error) {
	if s.encryptionKey == "" {
		return "", errors.New("encryption key is required")
	}
	filePath := filepath.Join(s.dbPath, s.collection.Name+".chromem")
	log.Debug().Str("collection", s.collection.Name).Str("file", filePath).Bool("compress", compress).Msg("Exporting collection")
	if err := s.db.ExportToFile(filePath, compress, s.encryptionKey, s.collection.Name); err != nil {
		return "", fmt.Errorf("failed to export database: %w", err)
	}
	return filePath, nil
}

// Close is a no-op; the persistent DB writes every change on insert.
func (s *Store) Close() error { return nil }

func encodeMetadata(m models.ChunkMetadata) map[string]string {
	return map[string]string{
		"source":      m.Source,
		"path":        m.Path,
		"page":        strconv.Itoa(m.Page),
		"used_ocr":    strconv.FormatBool(m.UsedOCR),
		"chunk_index": strconv.Itoa(m.ChunkIndex),
	}
}

func decodeMetadata(meta map[string]string) models.ChunkMetadata {
	page, _ := strconv.Atoi(meta["page"])
	usedOCR, _ := strconv.ParseBool(meta["used_ocr"])
	chunkIndex, _ := strconv.Atoi(meta["chunk_index"])
	return models.ChunkMetadata{
		Source:     meta["source"],
		Path:       meta["path"],
		Page:       page,
		UsedOCR:    usedOCR,
		ChunkIndex: chunkIndex,
	}
}
