package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/llm"
	"github.com/comigor/chatrelay/internal/prompt"
	"github.com/comigor/chatrelay/internal/settings"
)

type sent struct {
	Kind   string
	ChatID int64
	Text   string
	Labels []string
}

type fakeMessenger struct {
	sent          []sent
	formattedErr  error
	fileURL       string
	fileErr       error
	typingActions int
}

func (m *fakeMessenger) SendText(chatID int64, text string) error {
	m.sent = append(m.sent, sent{Kind: "text", ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) SendFormatted(chatID int64, text string) error {
	if m.formattedErr != nil {
		return m.formattedErr
	}
	m.sent = append(m.sent, sent{Kind: "formatted", ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) SendKeyboard(chatID int64, text string, labels []string) error {
	m.sent = append(m.sent, sent{Kind: "keyboard", ChatID: chatID, Text: text, Labels: labels})
	return nil
}

func (m *fakeMessenger) SendTyping(int64) error {
	m.typingActions++
	return nil
}

func (m *fakeMessenger) FileURL(string) (string, error) {
	return m.fileURL, m.fileErr
}

func (m *fakeMessenger) last() sent {
	return m.sent[len(m.sent)-1]
}

type call struct {
	Model       string
	Messages    []openai.ChatCompletionMessage
	Temperature float32
}

type mockCompleter struct {
	replies []string
	err     error
	calls   []call
}

func (m *mockCompleter) Complete(_ context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	m.calls = append(m.calls, call{model, messages, temperature})
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		panic("mockCompleter: no more replies configured")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

type fixture struct {
	relay   *Relay
	history *history.MemoryStore
	prefs   *settings.MemoryStore
	out     *fakeMessenger
	llm     *mockCompleter
}

const defaultModel = "google/gemma-3-27b-it:free"

func newFixture() *fixture {
	f := &fixture{
		history: history.NewMemoryStore(),
		prefs:   settings.NewMemoryStore(),
		out:     &fakeMessenger{},
		llm:     &mockCompleter{},
	}
	f.relay = New(f.history, f.prefs, prompt.NewBuilder(f.history), f.llm, f.out, Options{
		Defaults:    settings.Defaults{Model: defaultModel, Persona: settings.StandardCharacter},
		Temperature: 0.6,
	})
	return f
}

func (f *fixture) turns(t *testing.T, userID string) []history.Turn {
	t.Helper()
	turns, err := f.history.Recent(context.Background(), userID, 100)
	require.NoError(t, err)
	return turns
}

func TestHandle_TextRoundTrip(t *testing.T) {
	f := newFixture()
	f.llm.replies = []string{"Hello, I am a helpful AI."}

	err := f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, Text: "hi"})
	require.NoError(t, err)

	require.Equal(t, sent{Kind: "formatted", ChatID: 7, Text: "Hello, I am a helpful AI."}, f.out.last())
	require.Equal(t, 1, f.out.typingActions)

	require.Len(t, f.llm.calls, 1)
	c := f.llm.calls[0]
	require.Equal(t, defaultModel, c.Model)
	require.Equal(t, float32(0.6), c.Temperature)
	require.Equal(t, settings.StandardCharacter, c.Messages[0].Content)
	require.Equal(t, "hi", c.Messages[len(c.Messages)-1].Content)

	turns := f.turns(t, "7")
	require.Len(t, turns, 2)
	require.Equal(t, "Hello, I am a helpful AI.", *turns[0].Response)
	require.Equal(t, "hi", *turns[1].Text)
}

func TestHandle_HistoryFeedsNextPrompt(t *testing.T) {
	f := newFixture()
	f.llm.replies = []string{"first answer", "second answer"}
	ctx := context.Background()

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Text: "first"}))
	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Text: "second"}))

	msgs := f.llm.calls[1].Messages
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Role+":"+m.Content)
	}
	require.Equal(t, []string{
		"user:" + settings.StandardCharacter,
		"user:first",
		"assistant:first answer",
		"user:second",
	}, contents)
}

func TestHandle_FormattedRejectedFallsBackToPlain(t *testing.T) {
	f := newFixture()
	f.llm.replies = []string{"*broken markdown"}
	f.out.formattedErr = errors.New("can't parse entities")

	require.NoError(t, f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, Text: "hi"}))
	require.Equal(t, sent{Kind: "text", ChatID: 7, Text: "*broken markdown"}, f.out.last())
}

func TestHandle_EmptyReplyIsNotStored(t *testing.T) {
	f := newFixture()
	f.llm.err = llm.ErrEmptyReply

	require.NoError(t, f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, Text: "hi"}))
	require.Equal(t, ReplyNoAnswer, f.out.last().Text)

	turns := f.turns(t, "7")
	require.Len(t, turns, 1)
	require.Nil(t, turns[0].Response)
}

func TestHandle_CompletionFailure(t *testing.T) {
	f := newFixture()
	f.llm.err = context.DeadlineExceeded

	err := f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, Text: "hi"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, sent{Kind: "text", ChatID: 7, Text: ReplyProcessingError}, f.out.last())
	require.Len(t, f.turns(t, "7"), 1)
}

func TestHandle_PhotoWithoutCaption(t *testing.T) {
	f := newFixture()
	f.out.fileURL = "https://api.telegram.org/file/bot123/photos/file_1.jpg"
	f.llm.replies = []string{"a cat"}

	require.NoError(t, f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, PhotoFileID: "file_1"}))

	last := f.llm.calls[0].Messages[len(f.llm.calls[0].Messages)-1]
	require.Len(t, last.MultiContent, 2)
	require.Equal(t, prompt.ImageFallbackText, last.MultiContent[0].Text)
	require.Equal(t, f.out.fileURL, last.MultiContent[1].ImageURL.URL)

	turns := f.turns(t, "7")
	require.Len(t, turns, 2)
	require.Equal(t, history.MediaPhoto, turns[1].Media)
	require.Nil(t, turns[1].Text)
}

func TestHandle_PhotoLinkFailure(t *testing.T) {
	f := newFixture()
	f.out.fileErr = errors.New("file is too big")

	err := f.relay.Handle(context.Background(), Event{UserID: "7", ChatID: 7, PhotoFileID: "file_1"})
	require.Error(t, err)
	require.Equal(t, ReplyUnreadable, f.out.last().Text)
	require.Empty(t, f.llm.calls)
	require.Empty(t, f.turns(t, "7"))
}

func TestHandle_Commands(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Command: "start"}))
	require.Equal(t, ReplyStart, f.out.last().Text)

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Command: "help"}))
	require.Equal(t, ReplyHelp, f.out.last().Text)

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Command: "model"}))
	require.Equal(t, sent{Kind: "keyboard", ChatID: 7, Text: ReplyChooseModel, Labels: settings.Labels(settings.Models)}, f.out.last())

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "7", ChatID: 7, Command: "character"}))
	require.Equal(t, settings.Labels(settings.Characters), f.out.last().Labels)
	require.Empty(t, f.llm.calls)
}

func TestHandle_Clear(t *testing.T) {
	for name, ev := range map[string]Event{
		"command": {UserID: "7", ChatID: 7, Command: "clear"},
		"word":    {UserID: "7", ChatID: 7, Text: "clear"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			_, err := f.history.Append(context.Background(), "7", history.UserText("old", history.MediaNone))
			require.NoError(t, err)

			require.NoError(t, f.relay.Handle(context.Background(), ev))
			require.Equal(t, ReplyCleared, f.out.last().Text)
			require.Empty(t, f.turns(t, "7"))
		})
	}
}

func TestHandle_PreferencesArePerUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "1", ChatID: 1, Text: "DeepSeek: R1 0528 (free) 🤖"}))
	require.Equal(t, "DeepSeek: R1 0528 (free) 🤖 was set as current", f.out.last().Text)

	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "1", ChatID: 1, Text: "No funny business 🤓"}))
	require.Equal(t, "No funny business 🤓 personality is now current", f.out.last().Text)

	f.llm.replies = []string{"r1", "r2"}
	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "1", ChatID: 1, Text: "hi"}))
	require.NoError(t, f.relay.Handle(ctx, Event{UserID: "2", ChatID: 2, Text: "hi"}))

	scholar, _ := settings.Lookup(settings.Characters, "No funny business 🤓")
	require.Equal(t, "deepseek/deepseek-r1-0528:free", f.llm.calls[0].Model)
	require.Equal(t, scholar.Value, f.llm.calls[0].Messages[0].Content)
	require.Equal(t, defaultModel, f.llm.calls[1].Model)
	require.Equal(t, settings.StandardCharacter, f.llm.calls[1].Messages[0].Content)
}

type failingPrefs struct{ settings.Store }

func (failingPrefs) Set(context.Context, string, settings.Field, string) error {
	return errors.New("read-only")
}

func TestHandle_PreferenceFailure(t *testing.T) {
	f := newFixture()
	f.relay.prefs = failingPrefs{Store: f.prefs}

	err := f.relay.Handle(context.Background(), Event{UserID: "1", ChatID: 1, Text: "Google: Gemma 3 27B (free) 🤖"})
	require.Error(t, err)
	require.Equal(t, ReplyModelFailed, f.out.last().Text)
}
