package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"ocr-rag/internal/config"
	"ocr-rag/internal/metrics"
)

var (
	// ErrQuotaExceeded means the provider account has no remaining credit. Retrying will not help.
	ErrQuotaExceeded = errors.New("embedding provider quota exceeded")
	ErrRateLimited   = errors.New("embedding provider rate limited")
	ErrProvider      = errors.New("embedding provider error")
)

// Embedder turns text into vectors. EmbedDocuments returns one vector per input, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// New creates the embedder selected by cfg.Provider.
func New(cfg config.LLMConfig) (Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating embedder")

	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// OllamaEmbedder embeds through a local Ollama server.
type OllamaEmbedder struct {
	impl *embeddings.EmbedderImpl
}

func NewOllamaEmbedder(cfg config.LLMConfig) (*OllamaEmbedder, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}

	var embedOpts []embeddings.Option
	if cfg.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	impl, err := embeddings.NewEmbedder(llm, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &OllamaEmbedder{impl: impl}, nil
}

func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("ollama", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	metrics.EmbeddingRequests.WithLabelValues("ollama", "success").Inc()
	return vectors, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.impl.EmbedQuery(ctx, strings.TrimSpace(text))
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("ollama", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	metrics.EmbeddingRequests.WithLabelValues("ollama", "success").Inc()
	return vector, nil
}
