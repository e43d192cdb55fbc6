// Package relay handles inbound chat events: bot commands, preference menus,
// and the prompt → store → complete → reply flow for ordinary messages.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/logger"
	"github.com/comigor/chatrelay/internal/prompt"
	"github.com/comigor/chatrelay/internal/settings"
)

// Replies shown to the user.
const (
	ReplyStart           = "Hey! Use '/model' command to choose AI-model you want to chat with "
	ReplyHelp            = "Just write a message, the answer won't take too long"
	ReplyCleared         = "the context was cleared"
	ReplyClearFailed     = "context cleaning error"
	ReplyChooseModel     = "Who you want to chat with?"
	ReplyChooseCharacter = "What chatting style do you prefer?"
	ReplyModelFailed     = "failed to set this model"
	ReplyCharacterFailed = "cannot set this character"
	ReplyNoAnswer        = "no answer"
	ReplyProcessingError = "processing error"
	ReplyUnreadable      = "cannot read the message"
)

// Event is one inbound message, already stripped of platform details.
type Event struct {
	UserID      string
	ChatID      int64
	Username    string
	Command     string // without the leading slash, empty for plain messages
	Text        string // message text or photo caption
	PhotoFileID string
}

// Messenger delivers replies back to the platform.
type Messenger interface {
	SendText(chatID int64, text string) error
	// SendFormatted sends text rendered with the platform's markup.
	SendFormatted(chatID int64, text string) error
	SendKeyboard(chatID int64, text string, labels []string) error
	SendTyping(chatID int64) error
	FileURL(fileID string) (string, error)
}

// Completer produces a reply for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error)
}

// Relay wires the stores, the prompt builder and the completion backend.
type Relay struct {
	history     history.Store
	prefs       settings.Store
	builder     *prompt.Builder
	llm         Completer
	out         Messenger
	defaults    settings.Defaults
	temperature float32
	timeout     time.Duration
}

// Options holds the tunables of a Relay.
type Options struct {
	Defaults    settings.Defaults
	Temperature float32
	// Timeout bounds one completion call; zero means no extra bound.
	Timeout time.Duration
}

func New(h history.Store, prefs settings.Store, builder *prompt.Builder, llm Completer, out Messenger, opts Options) *Relay {
	return &Relay{
		history:     h,
		prefs:       prefs,
		builder:     builder,
		llm:         llm,
		out:         out,
		defaults:    opts.Defaults,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
	}
}

// Handle routes one event. Failures are reported to the user; the returned
// error is for logging only.
func (r *Relay) Handle(ctx context.Context, ev Event) error {
	log := logger.ForUpdate(ev.UserID)

	switch ev.Command {
	case "start":
		return r.out.SendText(ev.ChatID, ReplyStart)
	case "help":
		return r.out.SendText(ev.ChatID, ReplyHelp)
	case "clear":
		return r.clear(ctx, log, ev)
	case "model":
		return r.out.SendKeyboard(ev.ChatID, ReplyChooseModel, settings.Labels(settings.Models))
	case "character":
		return r.out.SendKeyboard(ev.ChatID, ReplyChooseCharacter, settings.Labels(settings.Characters))
	}

	if ev.PhotoFileID == "" {
		if ev.Command == "" && ev.Text == "clear" {
			return r.clear(ctx, log, ev)
		}
		if p, ok := settings.Lookup(settings.Models, ev.Text); ok {
			return r.choose(ctx, log, ev, settings.FieldModel, p, ev.Text+" was set as current", ReplyModelFailed)
		}
		if p, ok := settings.Lookup(settings.Characters, ev.Text); ok {
			return r.choose(ctx, log, ev, settings.FieldPersona, p, ev.Text+" personality is now current", ReplyCharacterFailed)
		}
		return r.converse(ctx, log, ev, "")
	}

	imageURL, err := r.out.FileURL(ev.PhotoFileID)
	if err != nil {
		log.Error("photo link failed", "error", err)
		return errors.Join(err, r.out.SendText(ev.ChatID, ReplyUnreadable))
	}
	return r.converse(ctx, log, ev, imageURL)
}

func (r *Relay) clear(ctx context.Context, log *slog.Logger, ev Event) error {
	if err := r.history.DeleteAll(ctx, ev.UserID); err != nil {
		log.Error("clear history failed", "error", err)
		return errors.Join(err, r.out.SendText(ev.ChatID, ReplyClearFailed))
	}
	log.Info("history cleared")
	return r.out.SendText(ev.ChatID, ReplyCleared)
}

func (r *Relay) choose(ctx context.Context, log *slog.Logger, ev Event, field settings.Field, p settings.Preset, ok, failed string) error {
	if err := r.prefs.Set(ctx, ev.UserID, field, p.Value); err != nil {
		log.Error("preference update failed", "field", field, "error", err)
		return errors.Join(err, r.out.SendText(ev.ChatID, failed))
	}
	log.Info("preference updated", "field", field, "label", p.Label)
	return r.out.SendText(ev.ChatID, ok)
}
