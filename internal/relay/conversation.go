package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/llm"
	"github.com/comigor/chatrelay/internal/prompt"
	"github.com/comigor/chatrelay/internal/settings"
)

// Conversation states
const (
	stateIdle       = "Idle"
	statePreparing  = "Preparing"  // resolve preferences and build the prompt
	stateStoring    = "Storing"    // persist the inbound turn
	stateCompleting = "Completing" // call the model
	stateDelivering = "Delivering" // persist the reply and send it
	stateDone       = "Done"
	stateFailed     = "Failed"
)

// Conversation triggers
const (
	triggerReceive   = "Receive"
	triggerPrepared  = "Prepared"
	triggerStored    = "Stored"
	triggerAnswered  = "Answered"
	triggerDelivered = "Delivered"
	triggerFailed    = "Failed"
)

// conversation carries one message through the relay flow.
type conversation struct {
	r        *Relay
	log      *slog.Logger
	ev       Event
	imageURL string

	prefs    settings.Preferences
	messages []openai.ChatCompletionMessage
	reply    string
	persist  bool
	err      error

	fsm *stateless.StateMachine
}

func (r *Relay) converse(ctx context.Context, log *slog.Logger, ev Event, imageURL string) error {
	c := &conversation{r: r, log: log, ev: ev, imageURL: imageURL}
	c.fsm = c.machine()

	if err := c.fsm.FireCtx(ctx, triggerReceive); err != nil {
		log.Error("conversation machine error", "error", err)
		return fmt.Errorf("conversation: %w", err)
	}

	state, err := c.fsm.State(ctx)
	if err != nil {
		return fmt.Errorf("conversation state: %w", err)
	}
	if state == stateDone {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	return fmt.Errorf("conversation ended in unexpected state %v", state)
}

// fail records err and moves the machine to Failed.
func (c *conversation) fail(ctx context.Context, err error) error {
	c.err = err
	return c.fsm.FireCtx(ctx, triggerFailed)
}

func (c *conversation) machine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(stateIdle)
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		c.log.Debug("conversation transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	fsm.Configure(stateIdle).
		Permit(triggerReceive, statePreparing)

	fsm.Configure(statePreparing).
		OnEntry(c.prepare).
		Permit(triggerPrepared, stateStoring).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateStoring).
		OnEntry(c.store).
		Permit(triggerStored, stateCompleting).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateCompleting).
		OnEntry(c.complete).
		Permit(triggerAnswered, stateDelivering).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateDelivering).
		OnEntry(c.deliver).
		Permit(triggerDelivered, stateDone).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateFailed).
		OnEntry(func(_ context.Context, _ ...any) error {
			c.log.Error("processing error", "error", c.err)
			if err := c.r.out.SendText(c.ev.ChatID, ReplyProcessingError); err != nil {
				c.log.Warn("cannot report processing error", "error", err)
			}
			return nil
		})

	return fsm
}

func (c *conversation) store(ctx context.Context, _ ...any) error {
	media := history.MediaNone
	if c.imageURL != "" {
		media = history.MediaPhoto
	}
	if _, err := c.r.history.Append(ctx, c.ev.UserID, history.UserText(c.ev.Text, media)); err != nil {
		return c.fail(ctx, fmt.Errorf("store message: %w", err))
	}
	if err := c.r.out.SendTyping(c.ev.ChatID); err != nil {
		c.log.Warn("typing action failed", "error", err)
	}
	return c.fsm.FireCtx(ctx, triggerStored)
}

// prepare runs before the inbound turn is stored so the new message is
// only present once in the prompt, as its last element.
func (c *conversation) prepare(ctx context.Context, _ ...any) error {
	prefs, err := settings.Resolve(ctx, c.r.prefs, c.ev.UserID, c.r.defaults)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("load preferences: %w", err))
	}
	c.prefs = prefs

	c.messages, err = c.r.builder.Build(ctx, prompt.Request{
		UserID:   c.ev.UserID,
		Text:     c.ev.Text,
		ImageURL: c.imageURL,
		Persona:  prefs.Persona,
	})
	if err != nil {
		return c.fail(ctx, err)
	}
	return c.fsm.FireCtx(ctx, triggerPrepared)
}

func (c *conversation) complete(ctx context.Context, _ ...any) error {
	callCtx := ctx
	if c.r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.r.timeout)
		defer cancel()
	}
	reply, err := c.r.llm.Complete(callCtx, c.prefs.Model, c.messages, c.r.temperature)
	switch {
	case errors.Is(err, llm.ErrEmptyReply):
		c.log.Warn("model returned no answer", "model", c.prefs.Model)
		c.reply = ReplyNoAnswer
	case err != nil:
		return c.fail(ctx, err)
	default:
		c.reply = reply
		c.persist = true
	}
	return c.fsm.FireCtx(ctx, triggerAnswered)
}

func (c *conversation) deliver(ctx context.Context, _ ...any) error {
	if c.persist {
		if _, err := c.r.history.Append(ctx, c.ev.UserID, history.BotResponse(c.reply)); err != nil {
			return c.fail(ctx, fmt.Errorf("store reply: %w", err))
		}
	}
	if err := c.r.out.SendFormatted(c.ev.ChatID, c.reply); err != nil {
		c.log.Warn("formatted reply rejected; sending plain text", "error", err)
		if err := c.r.out.SendText(c.ev.ChatID, c.reply); err != nil {
			return c.fail(ctx, fmt.Errorf("send reply: %w", err))
		}
	}
	c.log.Info("answer sent", "username", c.ev.Username)
	return c.fsm.FireCtx(ctx, triggerDelivered)
}
