package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"ocr-rag/internal/metrics"
	"ocr-rag/internal/models"
)

var (
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrEmptyResponse = errors.New("chat model returned no choices")
)

type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]models.RetrievedChunk, error)
}

type Options struct {
	TopK            int
	MaxContextChars int
	Temperature     float64
}

// Service answers questions from retrieved context.
type Service struct {
	model ChatModel
	opts  Options
}

func New(model ChatModel, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = models.TopK
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = models.MaxContextChars
	}
	if opts.Temperature == 0 {
		opts.Temperature = models.Temperature
	}
	return &Service{model: model, opts: opts}
}

// Answer retrieves up to k chunks (the configured default when k <= 0), packs
// as many as fit the context budget in rank order and asks the chat model.
func (s *Service) Answer(ctx context.Context, index Retriever, question string, k int) (answer *models.Answer, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.AnswerDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = s.opts.TopK
	}

	results, err := index.Query(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	contextText, sources := BuildContext(results, s.opts.MaxContextChars)
	log.Debug().Int("retrieved", len(results)).Int("used", len(sources)).Int("context_chars", utf8.RuneCountInString(contextText)).Msg("Built context")

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.HumanPromptTemplate, question, contextText)),
	}
	resp, err := s.model.GenerateContent(ctx, messages, llms.WithTemperature(s.opts.Temperature))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &models.Answer{
		Answer:  resp.Choices[0].Content,
		Sources: sources,
	}, nil
}

// BuildContext joins ranked chunks under a source header until the next one
// would push the total past budget characters. Sources lists the included chunks in order.
func BuildContext(results []models.RetrievedChunk, budget int) (string, []models.Source) {
	var (
		b       strings.Builder
		used    int
		sources = []models.Source{}
	)
	sepLen := utf8.RuneCountInString(models.ContextSeparator)
	for _, r := range results {
		part := fmt.Sprintf(models.ChunkHeader, r.Metadata.Source, r.Metadata.Page) + r.Content
		cost := utf8.RuneCountInString(part)
		if len(sources) > 0 {
			cost += sepLen
		}
		if used+cost > budget {
			break
		}
		if len(sources) > 0 {
			b.WriteString(models.ContextSeparator)
		}
		b.WriteString(part)
		used += cost
		sources = append(sources, models.Source{
			Source:  r.Metadata.Source,
			Page:    r.Metadata.Page,
			UsedOCR: r.Metadata.UsedOCR,
		})
	}
	return b.String(), sources
}
