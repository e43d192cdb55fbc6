// Package prompt assembles the message list sent to the completion backend
// from a user's stored history and the new inbound message.
//
// The list always starts with the persona and ends with the new message.
// History in between is folded oldest first under a character budget: a
// field that would bring the running count to the budget or beyond is
// skipped, and folding continues with the next field, so a long old reply
// does not hide the shorter turns that follow it.
package prompt

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/logger"
)

const (
	DefaultBudget       = 9999
	DefaultHistoryLimit = 30
	// ImageFallbackText is sent alongside a photo that has no caption.
	ImageFallbackText = "What is depicted here?"
)

// HistoryReader is the part of history.Store the builder needs.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]history.Turn, error)
}

// Request describes one inbound message.
type Request struct {
	UserID   string
	Text     string
	ImageURL string
	Persona  string
}

// Builder turns history plus a Request into a bounded prompt. It holds no
// per-request state and is safe for concurrent use.
type Builder struct {
	history      HistoryReader
	budget       int
	historyLimit int
	personaRole  string
}

// Option configures a Builder.
type Option func(*Builder)

// WithBudget sets the character budget for persona plus history.
func WithBudget(n int) Option {
	return func(b *Builder) { b.budget = n }
}

// WithHistoryLimit sets how many recent turns are fetched.
func WithHistoryLimit(n int) Option {
	return func(b *Builder) { b.historyLimit = n }
}

// WithPersonaRole selects the role of the leading persona message (user or system).
func WithPersonaRole(role string) Option {
	return func(b *Builder) { b.personaRole = role }
}

func NewBuilder(h HistoryReader, opts ...Option) *Builder {
	b := &Builder{
		history:      h,
		budget:       DefaultBudget,
		historyLimit: DefaultHistoryLimit,
		personaRole:  openai.ChatMessageRoleUser,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches the recent history of req.UserID and returns the prompt.
// Only a failing history read is an error; an exhausted budget just drops
// older content.
func (b *Builder) Build(ctx context.Context, req Request) ([]openai.ChatCompletionMessage, error) {
	if req.UserID == "" {
		return nil, history.ErrNoUser
	}
	turns, err := b.history.Recent(ctx, req.UserID, b.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", req.UserID, err)
	}
	// Recent is newest first.
	slices.Reverse(turns)

	messages := make([]openai.ChatCompletionMessage, 0, 2*len(turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: b.personaRole, Content: req.Persona})
	total := utf8.RuneCountInString(req.Persona)
	skipped := 0

	fold := func(role string, content *string) {
		if content == nil || *content == "" {
			return
		}
		n := utf8.RuneCountInString(*content)
		if total+n >= b.budget {
			skipped++
			return
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: *content})
		total += n
	}
	for _, t := range turns {
		fold(openai.ChatMessageRoleUser, t.Text)
		fold(openai.ChatMessageRoleAssistant, t.Response)
	}

	messages = append(messages, newTurn(req))

	logger.L.Debug("prompt assembled", "user_id", req.UserID, "turns", len(turns), "messages", len(messages), "chars", total, "skipped", skipped)
	return messages, nil
}

func newTurn(req Request) openai.ChatCompletionMessage {
	if req.ImageURL == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Text}
	}
	text := req.Text
	if text == "" {
		text = ImageFallbackText
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.ImageURL}},
		},
	}
}
