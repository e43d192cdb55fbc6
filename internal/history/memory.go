package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps turns in process memory. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	turns  []Turn
	nextID int64
	opts   options
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: buildOptions(opts)}
}

func (s *MemoryStore) Append(_ context.Context, userID string, e Entry) (Turn, error) {
	if err := validate(userID, e); err != nil {
		return Turn{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := Turn{
		ID:        s.nextID,
		UserID:    userID,
		Text:      e.Text,
		Response:  e.Response,
		Media:     e.Media,
		CreatedAt: s.opts.now().UTC(),
	}
	s.turns = append(s.turns, t)
	return t, nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	for i := len(s.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.turns[i].UserID == userID {
			out = append(out, s.turns[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = slices.DeleteFunc(s.turns, func(t Turn) bool { return t.UserID == userID })
	return nil
}

func (s *MemoryStore) SweepOlderThan(_ context.Context, d time.Duration) ([]string, error) {
	cutoff := s.opts.now().UTC().Add(-d)
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]time.Time)
	for _, t := range s.turns {
		if t.CreatedAt.After(latest[t.UserID]) {
			latest[t.UserID] = t.CreatedAt
		}
	}
	var stale []string
	for user, last := range latest {
		if last.Before(cutoff) {
			stale = append(stale, user)
		}
	}
	slices.Sort(stale)
	s.turns = slices.DeleteFunc(s.turns, func(t Turn) bool {
		_, found := slices.BinarySearch(stale, t.UserID)
		return found
	})
	return stale, nil
}
