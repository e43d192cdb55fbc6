package settings

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comigor/chatrelay/internal/logger"
)

const (
	cacheKeyPrefix = "chatrelay:prefs:"
	// present on every cached hash so users without preferences still hit.
	cacheMarker = "_"
)

// CachedStore is a read-through Redis cache in front of another Store.
// Writes go to the backing store and invalidate the cached entry.
type CachedStore struct {
	next  Store
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, redis: client, ttl: ttl}
}

func (c *CachedStore) Get(ctx context.Context, userID string) (Preferences, error) {
	key := cacheKeyPrefix + userID
	vals, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		logger.L.Warn("preference cache read failed; using backing store", "error", err)
		return c.next.Get(ctx, userID)
	}
	if _, ok := vals[cacheMarker]; ok {
		return Preferences{Model: vals[string(FieldModel)], Persona: vals[string(FieldPersona)]}, nil
	}

	p, err := c.next.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, key, cacheMarker, "1", string(FieldModel), p.Model, string(FieldPersona), p.Persona)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L.Warn("preference cache write failed", "error", err)
	}
	return p, nil
}

func (c *CachedStore) Set(ctx context.Context, userID string, field Field, value string) error {
	if err := c.next.Set(ctx, userID, field, value); err != nil {
		return err
	}
	if err := c.redis.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		logger.L.Warn("preference cache invalidation failed", "error", err)
	}
	return nil
}
