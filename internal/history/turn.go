package history

import (
	"context"
	"errors"
	"time"
)

// Media marks a non-text inbound attachment.
type Media string

const (
	MediaNone  Media = ""
	MediaPhoto Media = "photo"
)

// Turn is one stored interaction. Absent values are nil.
type Turn struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Text      *string   `db:"text" json:"text,omitempty"`
	Response  *string   `db:"response" json:"response,omitempty"`
	Media     Media     `db:"media" json:"media,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Entry is the content of a new Turn.
type Entry struct {
	Text     *string
	Response *string
	Media    Media
}

// UserText returns an Entry for an inbound message. An empty text is stored
// as absent, so a caption-less photo becomes a media-only turn.
func UserText(text string, media Media) Entry {
	e := Entry{Media: media}
	if text != "" {
		e.Text = &text
	}
	return e
}

// BotResponse returns an Entry holding an assistant reply.
func BotResponse(response string) Entry {
	return Entry{Response: &response}
}

func (e Entry) empty() bool {
	return e.Text == nil && e.Response == nil && e.Media == MediaNone
}

var (
	// ErrEmptyTurn is returned when an Entry carries neither text, response nor media.
	ErrEmptyTurn = errors.New("history: turn has no content")
	// ErrNoUser is returned when the user id is empty.
	ErrNoUser = errors.New("history: user id is required")
)

// Store is an append-only log of turns per user.
type Store interface {
	Append(ctx context.Context, userID string, e Entry) (Turn, error)
	// Recent returns up to limit turns, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)
	DeleteAll(ctx context.Context, userID string) error
	// SweepOlderThan deletes the history of every user whose latest turn is
	// older than d and returns those user ids.
	SweepOlderThan(ctx context.Context, d time.Duration) ([]string, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for CreatedAt and sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validate(userID string, e Entry) error {
	if userID == "" {
		return ErrNoUser
	}
	if e.empty() {
		return ErrEmptyTurn
	}
	return nil
}
