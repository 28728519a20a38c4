package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-rag/internal/config"
	"ocr-rag/internal/db"
	"ocr-rag/internal/embedding"
	"ocr-rag/internal/models"
)

type fakeEmbedder struct {
	err      error
	docCalls int
	queries  []string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.docCalls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeBackend struct {
	name      string
	upsertErr error
	records   []models.Record
	closed    bool
	results   []models.RetrievedChunk
	lastK     int
	exported  int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Upsert(_ context.Context, records []models.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeBackend) Search(_ context.Context, _ []float32, k int) ([]models.RetrievedChunk, error) {
	f.lastK = k
	return f.results, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type exportingBackend struct {
	fakeBackend
}

func (e *exportingBackend) Export() (string, error) {
	e.exported++
	return "snapshot.chromem", nil
}

func testChunks() []models.Chunk {
	return []models.Chunk{
		{Content: "first chunk", Metadata: models.ChunkMetadata{Source: "a.pdf", Page: 1}},
		{Content: "second chunk", Metadata: models.ChunkMetadata{Source: "a.pdf", Page: 2, ChunkIndex: 0}},
	}
}

func testConfig() *config.Config {
	return config.Default()
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("Should use the local store when no database is configured", func(t *testing.T) {
		local := &fakeBackend{name: "local"}
		emb := &fakeEmbedder{}
		b := NewBuilder(testConfig(), emb, WithLocalOpener(func() (Backend, error) { return local, nil }))

		index, err := b.Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, "local", index.Backend())
		require.Len(t, local.records, 2)
		assert.Equal(t, "first chunk", local.records[0].Content)
		assert.Equal(t, []float32{11, 1}, local.records[0].Embedding)
		assert.NotEmpty(t, local.records[0].ID)
		assert.NotEqual(t, local.records[0].ID, local.records[1].ID)
	})

	t.Run("Should prefer the networked store when reachable", func(t *testing.T) {
		network := &fakeBackend{name: "network"}
		localOpened := false
		b := NewBuilder(testConfig(), &fakeEmbedder{},
			WithNetworkOpener(func(context.Context) (Backend, error) { return network, nil }),
			WithLocalOpener(func() (Backend, error) { localOpened = true; return &fakeBackend{name: "local"}, nil }),
		)

		index, err := b.Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, "network", index.Backend())
		assert.Len(t, network.records, 2)
		assert.False(t, localOpened)
	})

	t.Run("Should fall back once when the database is unreachable", func(t *testing.T) {
		local := &fakeBackend{name: "local"}
		networkCalls := 0
		emb := &fakeEmbedder{}
		b := NewBuilder(testConfig(), emb,
			WithNetworkOpener(func(context.Context) (Backend, error) {
				networkCalls++
				return nil, fmt.Errorf("%w: dial tcp: connection refused", db.ErrUnavailable)
			}),
			WithLocalOpener(func() (Backend, error) { return local, nil }),
		)

		index, err := b.Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, "local", index.Backend())
		assert.Equal(t, 1, networkCalls)
		assert.Equal(t, 1, emb.docCalls)
		assert.Len(t, local.records, 2)
	})

	t.Run("Should fall back with the computed embeddings when the upsert loses the connection", func(t *testing.T) {
		network := &fakeBackend{name: "network", upsertErr: fmt.Errorf("write: %w", db.ErrUnavailable)}
		local := &fakeBackend{name: "local"}
		emb := &fakeEmbedder{}
		b := NewBuilder(testConfig(), emb,
			WithNetworkOpener(func(context.Context) (Backend, error) { return network, nil }),
			WithLocalOpener(func() (Backend, error) { return local, nil }),
		)

		index, err := b.Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, "local", index.Backend())
		assert.True(t, network.closed)
		assert.Equal(t, 1, emb.docCalls)
		assert.Len(t, local.records, 2)
	})

	t.Run("Should not fall back on query errors", func(t *testing.T) {
		network := &fakeBackend{name: "network", upsertErr: errors.New("column does not exist")}
		localOpened := false
		b := NewBuilder(testConfig(), &fakeEmbedder{},
			WithNetworkOpener(func(context.Context) (Backend, error) { return network, nil }),
			WithLocalOpener(func() (Backend, error) { localOpened = true; return &fakeBackend{}, nil }),
		)

		_, err := b.Build(ctx, testChunks())
		require.Error(t, err)
		assert.False(t, localOpened)
		assert.True(t, network.closed)
	})

	t.Run("Should propagate quota errors unchanged", func(t *testing.T) {
		local := &fakeBackend{name: "local"}
		quotaErr := fmt.Errorf("embedding API error 429: %w", embedding.ErrQuotaExceeded)
		b := NewBuilder(testConfig(), &fakeEmbedder{err: quotaErr},
			WithLocalOpener(func() (Backend, error) { return local, nil }),
		)

		_, err := b.Build(ctx, testChunks())
		require.Error(t, err)
		assert.ErrorIs(t, err, embedding.ErrQuotaExceeded)
		assert.Empty(t, local.records)
		assert.True(t, local.closed)
	})

	t.Run("Should reject an empty chunk list", func(t *testing.T) {
		b := NewBuilder(testConfig(), &fakeEmbedder{})
		_, err := b.Build(ctx, nil)
		assert.ErrorIs(t, err, ErrNoChunks)
	})

	t.Run("Should export backends that support snapshots", func(t *testing.T) {
		local := &exportingBackend{fakeBackend{name: "local"}}
		b := NewBuilder(testConfig(), &fakeEmbedder{}, WithLocalOpener(func() (Backend, error) { return local, nil }))
		_, err := b.Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, 1, local.exported)
	})

	t.Run("Should produce the same ids on repeated builds", func(t *testing.T) {
		first := &fakeBackend{name: "local"}
		second := &fakeBackend{name: "local"}
		_, err := NewBuilder(testConfig(), &fakeEmbedder{}, WithLocalOpener(func() (Backend, error) { return first, nil })).Build(ctx, testChunks())
		require.NoError(t, err)
		_, err = NewBuilder(testConfig(), &fakeEmbedder{}, WithLocalOpener(func() (Backend, error) { return second, nil })).Build(ctx, testChunks())
		require.NoError(t, err)
		assert.Equal(t, first.records[0].ID, second.records[0].ID)
		assert.Equal(t, first.records[1].ID, second.records[1].ID)
	})
}

func TestBuilder_LocalStore(t *testing.T) {
	t.Run("Should build against a real local store when the database is down", func(t *testing.T) {
		cfg := config.Default()
		cfg.RAG.PersistDir = t.TempDir()
		b := NewBuilder(cfg, &fakeEmbedder{}, WithNetworkOpener(func(context.Context) (Backend, error) {
			return nil, db.ErrUnavailable
		}))

		index, err := b.Build(context.Background(), testChunks())
		require.NoError(t, err)
		assert.Equal(t, "chromem", index.Backend())

		results, err := index.Query(context.Background(), "first chunk", 4)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestIndex_Query(t *testing.T) {
	t.Run("Should embed the question and pass k through", func(t *testing.T) {
		want := []models.RetrievedChunk{{Content: "hit", Rank: 1}}
		backend := &fakeBackend{name: "local", results: want}
		emb := &fakeEmbedder{}
		index := NewIndex(backend, emb)

		got, err := index.Query(context.Background(), "what is the fee?", 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, 4, backend.lastK)
		assert.Equal(t, []string{"what is the fee?"}, emb.queries)
	})
}
