// Package server exposes the webhook, cron and health endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/chatrelay/internal/logger"
	"github.com/comigor/chatrelay/internal/relay"
)

const healthText = "bot is running via webhook"

// UpdateParser turns a webhook request into a relay event. ok is false for
// updates the bot ignores.
type UpdateParser func(r *http.Request) (ev relay.Event, ok bool, err error)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev relay.Event) error
}

// Sweeper clears inactive conversations.
type Sweeper interface {
	Run(ctx context.Context) ([]string, error)
}

// Options wires the server.
type Options struct {
	WebhookPath string
	CronSecret  string
	Timeout     time.Duration
}

// Server owns the router and tracks updates still being processed.
type Server struct {
	parse   UpdateParser
	handler Handler
	sweeper Sweeper
	opts    Options
	wg      sync.WaitGroup
}

func New(parse UpdateParser, h Handler, s Sweeper, opts Options) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/api/webhook"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Server{parse: parse, handler: h, sweeper: s, opts: opts}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.Timeout))

	r.Get("/", s.health)
	r.Post(s.opts.WebhookPath, s.webhook)
	r.Get("/api/cron", s.cron)
	return r
}

// Wait blocks until every accepted update has been handled.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(healthText))
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	ev, ok, err := s.parse(r)
	if err != nil {
		logger.L.Warn("bad update", "error", err, "request_id", middleware.GetReqID(r.Context()))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	if !ok {
		return
	}

	// The platform retries slow webhooks, so the update is handled after
	// the response and outlives the request context.
	ctx := context.WithoutCancel(r.Context())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.L.Error("update handler panicked", "panic", p, "user_id", ev.UserID)
			}
		}()
		if err := s.handler.Handle(ctx, ev); err != nil {
			logger.L.Error("update failed", "error", err, "user_id", ev.UserID)
		}
	}()
}

func (s *Server) cron(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	users, err := s.sweeper.Run(r.Context())
	if err != nil {
		logger.L.Error("cron sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "inactive chats were cleaned",
		"cleared": len(users),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.CronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("write response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.L.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
