// Package telegram adapts the Telegram Bot API to the relay: it turns
// webhook updates into relay events and implements relay.Messenger.
package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/comigor/chatrelay/internal/config"
	"github.com/comigor/chatrelay/internal/relay"
)

// API is the subset of tgbotapi.BotAPI used here.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Commands is the menu registered with setMyCommands.
var Commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "start bot"},
	{Command: "help", Description: "help"},
	{Command: "clear", Description: "clear context"},
	{Command: "model", Description: "choose model"},
	{Command: "character", Description: "choose character"},
}

// Bot sends messages through the Bot API.
type Bot struct {
	api API
}

// Connect authenticates the token (getMe) and returns a Bot.
func Connect(cfg config.TelegramConfig) (*Bot, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return New(api), nil
}

func New(api API) *Bot {
	return &Bot{api: api}
}

// RegisterCommands publishes the command menu.
func (b *Bot) RegisterCommands() error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) SendFormatted(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, MarkdownV2(text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.api.Send(msg)
	return err
}

// SendKeyboard shows labels as a one-time reply keyboard, one per row.
func (b *Bot) SendKeyboard(chatID int64, text string, labels []string) error {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(l)))
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = true

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendTyping(chatID int64) error {
	_, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (b *Bot) FileURL(fileID string) (string, error) {
	return b.api.GetFileDirectURL(fileID)
}

// Notify sends a plain message to a user id as stored in history.
func (b *Bot) Notify(userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q is not a telegram chat id: %w", userID, err)
	}
	return b.SendText(chatID, text)
}

const maxUpdateBytes = 1 << 20

// ParseUpdate decodes a webhook request. The bool is false for updates the
// relay does not handle, such as edits, stickers or channel posts.
func ParseUpdate(r *http.Request) (relay.Event, bool, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&u); err != nil {
		return relay.Event{}, false, fmt.Errorf("decode update: %w", err)
	}
	ev, ok := EventFromUpdate(u)
	return ev, ok, nil
}

// EventFromUpdate maps a text or photo message to a relay event.
func EventFromUpdate(u tgbotapi.Update) (relay.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return relay.Event{}, false
	}
	ev := relay.Event{
		UserID:   strconv.FormatInt(m.From.ID, 10),
		ChatID:   m.Chat.ID,
		Username: m.From.UserName,
	}
	switch {
	case len(m.Photo) > 0:
		// sizes are ordered small to large
		ev.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		ev.Text = m.Caption
	case m.Text != "":
		ev.Text = m.Text
		if m.IsCommand() {
			ev.Command = m.Command()
		}
	default:
		return relay.Event{}, false
	}
	return ev, true
}
