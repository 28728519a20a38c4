package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"ocr-rag/internal/config"
	"ocr-rag/internal/metrics"
)

const quotaCode = "insufficient_quota"

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint in batches.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
}

func NewOpenAIEmbedder(cfg config.LLMConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: batchSize,
	}
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		log.Debug().Int("from", start).Int("to", end).Int("total", len(texts)).Msg("Embedded batch")
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{strings.TrimSpace(text)})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("openai", "error").Inc()
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(input) {
		metrics.EmbeddingRequests.WithLabelValues("openai", "error").Inc()
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(input), len(resp.Data))
	}
	metrics.EmbeddingRequests.WithLabelValues("openai", "success").Inc()

	vectors := make([][]float32, len(input))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(input) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProvider, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// parseAPIError maps provider failures onto ErrQuotaExceeded, ErrRateLimited or ErrProvider.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			if isQuotaCode(apiErr.Code) || apiErr.Type == quotaCode {
				return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrQuotaExceeded)
			}
			return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrRateLimited)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrProvider)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			if strings.Contains(body, quotaCode) {
				return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, body, ErrQuotaExceeded)
			}
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, body, ErrRateLimited)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, body, ErrProvider)
	}

	return fmt.Errorf("%w: %w", ErrProvider, err)
}

func isQuotaCode(code any) bool {
	s, ok := code.(string)
	return ok && s == quotaCode
}
