package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"ocr-rag/internal/config"
)

// Client is the chat model used to compose answers.
type Client struct {
	llm   *openai.LLM
	model string
}

func New(cfg config.LLMConfig) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}
	return &Client{llm: llm, model: cfg.Model}, nil
}

func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	log.Debug().Str("model", c.model).Int("messages", len(messages)).Msg("Generating content")
	return c.llm.GenerateContent(ctx, messages, options...)
}
