package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"ticket-triage/internal/config"
)

// Client talks to an OpenAI-compatible chat-completion endpoint for response
// synthesis.
type Client struct {
	llm llms.Model
}

func NewClient(cfg config.LLMConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &Client{llm: llm}, nil
}

// Generate sends a system and user message and returns the model's text.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	resp, err := c.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate content: empty response")
	}
	return resp.Choices[0].Content, nil
}
