package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatrelay/internal/config"
)

// ErrEmptyReply is returned when the backend answers without any content.
var ErrEmptyReply = errors.New("llm: empty reply")

// NewClient creates an OpenAI-compatible client (OpenRouter by default).
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return openai.NewClientWithConfig(config)
}

// Completer sends an assembled prompt to a model and returns the reply text.
type Completer struct {
	client Client
}

func NewCompleter(client Client) *Completer {
	return &Completer{client: client}
}

// Complete runs one chat completion. It does not retry.
func (c *Completer) Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}
