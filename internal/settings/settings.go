// Package settings stores per-user preferences: the model to talk to and the
// persona that leads every prompt.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Field names a stored preference.
type Field string

const (
	FieldModel   Field = "model"
	FieldPersona Field = "persona"
)

// ErrUnknownField is returned for a Field outside the known set.
var ErrUnknownField = errors.New("settings: unknown field")

// Preferences holds what a user picked; empty means "use the default".
type Preferences struct {
	Model   string `db:"model"`
	Persona string `db:"persona"`
}

// Store reads and writes preferences.
type Store interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	Set(ctx context.Context, userID string, field Field, value string) error
}

// Defaults resolves missing preferences.
type Defaults struct {
	Model   string
	Persona string
}

// Resolve returns the preferences of userID with defaults filled in.
func Resolve(ctx context.Context, s Store, userID string, d Defaults) (Preferences, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	if p.Model == "" {
		p.Model = d.Model
	}
	if p.Persona == "" {
		p.Persona = d.Persona
	}
	return p, nil
}

func checkField(f Field) error {
	if f != FieldModel && f != FieldPersona {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	return nil
}

// SQLStore keeps preferences in the user_settings table.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, userID string) (Preferences, error) {
	var rows []struct {
		Model   *string `db:"model"`
		Persona *string `db:"persona"`
	}
	q := s.db.Rebind(`SELECT model, persona FROM user_settings WHERE user_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return Preferences{}, fmt.Errorf("select settings: %w", err)
	}
	var p Preferences
	if len(rows) == 0 {
		return p, nil
	}
	if rows[0].Model != nil {
		p.Model = *rows[0].Model
	}
	if rows[0].Persona != nil {
		p.Persona = *rows[0].Persona
	}
	return p, nil
}

func (s *SQLStore) Set(ctx context.Context, userID string, field Field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	// field is one of two constants, safe to splice.
	q := s.db.Rebind(fmt.Sprintf(`INSERT INTO user_settings (user_id, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, field))
	if _, err := s.db.ExecContext(ctx, q, userID, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s: %w", field, err)
	}
	return nil
}

// MemoryStore keeps preferences in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs[userID], nil
}

func (s *MemoryStore) Set(_ context.Context, userID string, field Field, value string) error {
	if err := checkField(field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prefs[userID]
	if field == FieldModel {
		p.Model = value
	} else {
		p.Persona = value
	}
	s.prefs[userID] = p
	return nil
}
