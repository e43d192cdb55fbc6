package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/comigor/chatrelay/internal/logger"
)

// SQLStore persists turns in the messages table of a SQLite or Postgres database.
type SQLStore struct {
	db   *sqlx.DB
	opts options
}

// NewSQLStore wraps an open database. The schema must already exist.
func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, opts: buildOptions(opts)}
}

func (s *SQLStore) Append(ctx context.Context, userID string, e Entry) (Turn, error) {
	if err := validate(userID, e); err != nil {
		return Turn{}, err
	}
	t := Turn{
		UserID:    userID,
		Text:      e.Text,
		Response:  e.Response,
		Media:     e.Media,
		CreatedAt: s.opts.now().UTC(),
	}
	q := s.db.Rebind(`INSERT INTO messages (user_id, text, response, media, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, q, t.UserID, t.Text, t.Response, string(t.Media), t.CreatedAt).Scan(&t.ID); err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	q := s.db.Rebind(`SELECT id, user_id, text, response, media, created_at FROM messages
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	var turns []Turn
	if err := s.db.SelectContext(ctx, &turns, q, userID, limit); err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	return turns, nil
}

func (s *SQLStore) DeleteAll(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM messages WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

func (s *SQLStore) SweepOlderThan(ctx context.Context, d time.Duration) ([]string, error) {
	cutoff := s.opts.now().UTC().Add(-d)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	var stale []string
	q := tx.Rebind(`SELECT user_id FROM messages GROUP BY user_id HAVING MAX(created_at) < ? ORDER BY user_id`)
	if err := tx.SelectContext(ctx, &stale, q, cutoff); err != nil {
		return nil, fmt.Errorf("select inactive users: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	del, args, err := sqlx.In(`DELETE FROM messages WHERE user_id IN (?)`, stale)
	if err != nil {
		return nil, fmt.Errorf("build sweep delete: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(del), args...)
	if err != nil {
		return nil, fmt.Errorf("delete inactive turns: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		logger.L.Info("inactive history swept", "users", len(stale), "rows", n)
	}
	return stale, nil
}
