// Package storage opens the SQL database shared by the history and settings
// stores, creating the schema on first use, and the optional Redis cache.
package storage

import (
	"context"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/comigor/chatrelay/internal/config"
	"github.com/comigor/chatrelay/internal/logger"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var schema = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			text TEXT,
			response TEXT,
			media TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_user_created ON messages (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			model TEXT,
			persona TEXT,
			updated_at TIMESTAMP NOT NULL
		);`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT,
			response TEXT,
			media TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_user_created ON messages (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			model TEXT,
			persona TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	},
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.StorageConfig) (*sqlx.DB, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite":
		dsn = "file:" + cfg.DSN + "?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	case "postgres":
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("database initialized", "driver", cfg.Driver)
	return db, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, ok := schema[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// OpenRedis connects to Redis and verifies the connection with a ping.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.L.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}
