package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/chatrelay/internal/config"
	"github.com/comigor/chatrelay/internal/history"
	"github.com/comigor/chatrelay/internal/llm"
	"github.com/comigor/chatrelay/internal/logger"
	"github.com/comigor/chatrelay/internal/maintenance"
	"github.com/comigor/chatrelay/internal/prompt"
	"github.com/comigor/chatrelay/internal/relay"
	"github.com/comigor/chatrelay/internal/server"
	"github.com/comigor/chatrelay/internal/settings"
	"github.com/comigor/chatrelay/internal/storage"
	"github.com/comigor/chatrelay/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.L.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	var (
		turns history.Store
		prefs settings.Store
	)
	if cfg.Storage.Driver == "memory" {
		logger.L.Warn("using in-memory storage, history is lost on restart")
		turns = history.NewMemoryStore()
		prefs = settings.NewMemoryStore()
	} else {
		db, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			logger.L.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		turns = history.NewSQLStore(db)
		prefs = settings.NewSQLStore(db)
	}
	if cfg.Redis.Addr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.L.Warn("preference cache disabled", "error", err)
		} else {
			defer rdb.Close()
			prefs = settings.NewCachedStore(prefs, rdb, cfg.Redis.TTL)
		}
	}

	// Messaging platform
	bot, err := telegram.Connect(cfg.Telegram)
	if err != nil {
		logger.L.Error("failed to connect bot", "error", err)
		os.Exit(1)
	}
	if err := bot.RegisterCommands(); err != nil {
		logger.L.Warn("failed to register commands", "error", err)
	}

	// Relay
	builder := prompt.NewBuilder(turns,
		prompt.WithBudget(cfg.Context.CharBudget),
		prompt.WithHistoryLimit(cfg.Context.HistoryLimit),
		prompt.WithPersonaRole(cfg.Context.PersonaRole),
	)
	persona := settings.StandardCharacter
	if cfg.LLM.SystemPrompt != "" {
		persona = cfg.LLM.SystemPrompt
	}
	r := relay.New(turns, prefs, builder, llm.NewCompleter(llm.NewClient(cfg.LLM)), bot, relay.Options{
		Defaults:    settings.Defaults{Model: cfg.LLM.DefaultModel, Persona: persona},
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})

	sweeper := maintenance.NewSweeper(turns, bot, cfg.Maintenance.InactiveAfter, cfg.Maintenance.NotifyDelay)
	if cfg.Maintenance.Interval > 0 {
		go sweeper.Loop(ctx, cfg.Maintenance.Interval)
	}

	srv := server.New(telegram.ParseUpdate, r, sweeper, server.Options{
		WebhookPath: cfg.Telegram.WebhookPath,
		CronSecret:  cfg.Maintenance.CronSecret,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.L.Info("starting server", "address", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.L.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("server shutdown", "error", err)
	}
	srv.Wait()
	logger.L.Info("server exiting")
}
