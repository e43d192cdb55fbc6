// Package maintenance clears the history of inactive users and tells them.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/logger"
)

const DefaultInactiveAfter = 5 * 24 * time.Hour

// Notifier delivers a plain message to a user.
type Notifier interface {
	Notify(userID, text string) error
}

// Sweeper deletes stale conversations.
type Sweeper struct {
	history       history.Store
	notifier      Notifier
	inactiveAfter time.Duration
	notifyDelay   time.Duration
}

func NewSweeper(h history.Store, n Notifier, inactiveAfter, notifyDelay time.Duration) *Sweeper {
	if inactiveAfter <= 0 {
		inactiveAfter = DefaultInactiveAfter
	}
	if notifyDelay < 0 {
		notifyDelay = 0
	}
	return &Sweeper{history: h, notifier: n, inactiveAfter: inactiveAfter, notifyDelay: notifyDelay}
}

// Message is what a swept user receives.
func (s *Sweeper) Message() string {
	return fmt.Sprintf("user was inactive for %s, context cleared", humanDays(s.inactiveAfter))
}

// Run sweeps once and notifies every affected user. Notification failures
// are logged and do not stop the run. It returns the swept user ids.
//
// ctx only bounds the sweep itself. Once the history is deleted every swept
// user is notified even if ctx ends, since a later run has nothing left to
// announce.
func (s *Sweeper) Run(ctx context.Context) ([]string, error) {
	users, err := s.history.SweepOlderThan(ctx, s.inactiveAfter)
	if err != nil {
		return nil, fmt.Errorf("sweep history: %w", err)
	}
	msg := s.Message()
	for i, id := range users {
		if i > 0 && s.notifyDelay > 0 {
			time.Sleep(s.notifyDelay)
		}
		if err := s.notifier.Notify(id, msg); err != nil {
			logger.L.Error("cannot send message", "user_id", id, "error", err)
		}
	}
	if ctx.Err() != nil {
		logger.L.Warn("sweep caller went away before notifications finished", "error", ctx.Err())
	}
	logger.L.Info("inactive chats were cleaned", "cleared", len(users))
	return users, nil
}

// Loop runs the sweep every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				logger.L.Error("scheduled sweep failed", "error", err)
			}
		}
	}
}

func humanDays(d time.Duration) string {
	days := d / (24 * time.Hour)
	switch {
	case d%(24*time.Hour) != 0:
		return d.String()
	case days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
