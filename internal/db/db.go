package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"ocr-rag/internal/models"
)

const (
	BackendName    = "pgvector"
	connectTimeout = 10 * time.Second
	upsertBatch    = 500
)

// ChunkRecord is one embedded chunk stored in Postgres.
type ChunkRecord struct {
	bun.BaseModel `bun:"table:chunk_records,alias:cr"`

	ID         string          `bun:"id,pk"`
	Collection string          `bun:"collection,notnull"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Source     string          `bun:"source,notnull"`
	Path       string          `bun:"path"`
	Page       int             `bun:"page,notnull"`
	UsedOCR    bool            `bun:"used_ocr,notnull"`
	ChunkIndex int             `bun:"chunk_index,notnull"`

	Distance float32 `bun:"distance,scanonly"`
}

type Options struct {
	DSN        string
	Collection string
	Debug      bool
}

// Store is the networked vector backend.
type Store struct {
	db         *bun.DB
	collection string
}

// EnsureVectorExtension creates the pgvector extension if it is missing.
func EnsureVectorExtension(ctx context.Context, dsn string) error {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return classify(err, "open database")
	}
	defer sqldb.Close()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		return classify(err, "ping database")
	}
	if _, err := sqldb.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return classify(err, "create vector extension")
	}
	return nil
}

// Open ensures the vector extension and schema exist and returns a ready store.
// Connection failures are reported as ErrUnavailable.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := EnsureVectorExtension(ctx, opts.DSN); err != nil {
		return nil, err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(opts.DSN)))
	bdb := bun.NewDB(sqldb, pgdialect.New())
	if opts.Debug {
		bdb.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := initSchema(ctx, bdb); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	log.Info().Str("collection", opts.Collection).Msg("Connected to postgres vector store")
	return &Store{db: bdb, collection: opts.Collection}, nil
}

func initSchema(ctx context.Context, bdb *bun.DB) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := bdb.PingContext(ctx); err != nil {
		return classify(err, "ping database")
	}
	if _, err := bdb.NewCreateTable().Model((*ChunkRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return classify(err, "create table")
	}
	if _, err := bdb.NewCreateIndex().
		Model((*ChunkRecord)(nil)).
		Index("chunk_records_collection_idx").
		Column("collection").
		IfNotExists().
		Exec(ctx); err != nil {
		return classify(err, "create index")
	}
	return nil
}

func (s *Store) Name() string { return BackendName }

// Upsert writes records, replacing any with the same id.
func (s *Store) Upsert(ctx context.Context, records []models.Record) error {
	for start := 0; start < len(records); start += upsertBatch {
		end := min(start+upsertBatch, len(records))
		rows := make([]ChunkRecord, 0, end-start)
		for _, r := range records[start:end] {
			rows = append(rows, ChunkRecord{
				ID:         r.ID,
				Collection: s.collection,
				Content:    r.Content,
				Embedding:  pgvector.NewVector(r.Embedding),
				Source:     r.Metadata.Source,
				Path:       r.Metadata.Path,
				Page:       r.Metadata.Page,
				UsedOCR:    r.Metadata.UsedOCR,
				ChunkIndex: r.Metadata.ChunkIndex,
			})
		}
		_, err := s.db.NewInsert().
			Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("collection = EXCLUDED.collection").
			Set("content = EXCLUDED.content").
			Set("embedding = EXCLUDED.embedding").
			Set("source = EXCLUDED.source").
			Set("path = EXCLUDED.path").
			Set("page = EXCLUDED.page").
			Set("used_ocr = EXCLUDED.used_ocr").
			Set("chunk_index = EXCLUDED.chunk_index").
			Exec(ctx)
		if err != nil {
			return classify(err, "upsert records")
		}
	}
	return nil
}

// Search returns the k records closest to query by cosine distance.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.RetrievedChunk, error) {
	var rows []ChunkRecord
	vec := pgvector.NewVector(query)
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "content", "source", "path", "page", "used_ocr", "chunk_index").
		ColumnExpr("embedding <=> ? AS distance", vec).
		Where("collection = ?", s.collection).
		OrderExpr("embedding <=> ?", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "search records")
	}

	results := make([]models.RetrievedChunk, 0, len(rows))
	for i, row := range rows {
		results = append(results, models.RetrievedChunk{
			Content: row.Content,
			Metadata: models.ChunkMetadata{
				Source:     row.Source,
				Path:       row.Path,
				Page:       row.Page,
				UsedOCR:    row.UsedOCR,
				ChunkIndex: row.ChunkIndex,
			},
			Rank:  i + 1,
			Score: 1 - row.Distance,
		})
	}
	return results, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func classify(err error, op string) error {
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
