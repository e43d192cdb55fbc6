package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/maintenance"
	"github.com/comigor/chatrelay/internal/relay"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []relay.Event
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, ev relay.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

type stubSweeper struct {
	users []string
	err   error
	calls int
}

func (s *stubSweeper) Run(context.Context) ([]string, error) {
	s.calls++
	return s.users, s.err
}

func parseText(r *http.Request) (relay.Event, bool, error) {
	var body struct {
		User string `json:"user"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return relay.Event{}, false, err
	}
	if body.Text == "" {
		return relay.Event{}, false, nil
	}
	return relay.Event{UserID: body.User, Text: body.Text}, true, nil
}

func newTestServer(h Handler, s Sweeper) *Server {
	return New(parseText, h, s, Options{CronSecret: "s3cret"})
}

func do(t *testing.T, srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(nil, nil), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bot is running via webhook", rec.Body.String())
}

func TestWebhook_DispatchesUpdate(t *testing.T) {
	h := &recordingHandler{err: errors.New("logged, not returned")}
	srv := newTestServer(h, nil)

	rec := do(t, srv, http.MethodPost, "/api/webhook", `{"user":"42","text":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	srv.Wait()
	require.Equal(t, []relay.Event{{UserID: "42", Text: "hi"}}, h.events)
}

func TestWebhook_IgnoredUpdate(t *testing.T) {
	h := &recordingHandler{}
	srv := newTestServer(h, nil)

	rec := do(t, srv, http.MethodPost, "/api/webhook", `{"user":"42"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	srv.Wait()
	require.Empty(t, h.events)
}

func TestWebhook_BadBody(t *testing.T) {
	rec := do(t, newTestServer(&recordingHandler{}, nil), http.MethodPost, "/api/webhook", "{", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCron(t *testing.T) {
	tests := []struct {
		name    string
		auth    string
		sweeper *stubSweeper
		code    int
		body    string
		runs    int
	}{
		{"no header", "", &stubSweeper{}, http.StatusUnauthorized, `{"error":"unauthorized"}`, 0},
		{"wrong secret", "Bearer nope", &stubSweeper{}, http.StatusUnauthorized, `{"error":"unauthorized"}`, 0},
		{"not bearer", "s3cret", &stubSweeper{}, http.StatusUnauthorized, `{"error":"unauthorized"}`, 0},
		{"ok", "Bearer s3cret", &stubSweeper{users: []string{"1", "2"}}, http.StatusOK, `{"status":"inactive chats were cleaned","cleared":2}`, 1},
		{"sweep fails", "Bearer s3cret", &stubSweeper{err: errors.New("db down")}, http.StatusInternalServerError, `{"error":"db down"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.auth != "" {
				header["Authorization"] = tt.auth
			}
			rec := do(t, newTestServer(nil, tt.sweeper), http.MethodGet, "/api/cron", "", header)
			require.Equal(t, tt.code, rec.Code)
			require.JSONEq(t, tt.body, rec.Body.String())
			require.Equal(t, tt.runs, tt.sweeper.calls)
		})
	}
}

func TestCron_EmptySecretAlwaysRejects(t *testing.T) {
	sw := &stubSweeper{}
	srv := New(parseText, nil, sw, Options{})
	rec := do(t, srv, http.MethodGet, "/api/cron", "", map[string]string{"Authorization": "Bearer "})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, sw.calls)
}

type countingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *countingNotifier) Notify(userID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return nil
}

func TestCron_RequestTimeoutDoesNotDropNotifications(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := history.NewMemoryStore(history.WithClock(func() time.Time { return now }))
	stale := []string{"1", "2", "3", "4", "5"}
	for _, id := range stale {
		_, err := store.Append(context.Background(), id, history.UserText("hi", history.MediaNone))
		require.NoError(t, err)
	}
	now = now.Add(6 * 24 * time.Hour)

	n := &countingNotifier{}
	sweeper := maintenance.NewSweeper(store, n, 5*24*time.Hour, 20*time.Millisecond)
	srv := New(parseText, nil, sweeper, Options{CronSecret: "s3cret", Timeout: 30 * time.Millisecond})

	rec := do(t, srv, http.MethodGet, "/api/cron", "", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"inactive chats were cleaned","cleared":5}`, rec.Body.String())
	require.Equal(t, stale, n.users)
}
