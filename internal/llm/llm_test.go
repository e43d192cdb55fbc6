package llm

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.got = r
	return m.resp, m.err
}

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	m := &mockLLM{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "pong"}}}}}
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}}

	out, err := NewCompleter(m).Complete(context.Background(), "model-x", msgs, 0.6)
	require.NoError(t, err)
	require.Equal(t, "pong", out)
	require.Equal(t, "model-x", m.got.Model)
	require.Equal(t, float32(0.6), m.got.Temperature)
	require.Equal(t, msgs, m.got.Messages)
}

func TestComplete_EmptyReply(t *testing.T) {
	for name, resp := range map[string]openai.ChatCompletionResponse{
		"no choices": {},
		"blank":      {Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  \n"}}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewCompleter(&mockLLM{resp: resp}).Complete(context.Background(), "m", nil, 0)
			require.ErrorIs(t, err, ErrEmptyReply)
		})
	}
}

func TestComplete_PropagatesError(t *testing.T) {
	_, err := NewCompleter(&mockLLM{err: context.DeadlineExceeded}).Complete(context.Background(), "m", nil, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
