package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
)

// RedisCacheStore is an opt-in CacheStore backed by Redis, for operators who
// want the validation cache to survive a restart despite the core's
// no-persistence default. It is never wired unless Config.Redis.Enabled is
// set; the default Manager uses MemoryCacheStore.
type RedisCacheStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

// NewRedisCacheStore connects to Redis using cfg.Redis.
func NewRedisCacheStore(cfg *config.Config, ttl time.Duration) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Redis.Password != "" {
		opt.Password = cfg.Redis.Password
	}
	opt.DB = cfg.Redis.DB
	opt.DialTimeout = cfg.Redis.Timeout
	opt.ReadTimeout = cfg.Redis.Timeout
	opt.WriteTimeout = cfg.Redis.Timeout

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCacheStore{
		client: client,
		ttl:    ttl,
		logger: logging.GetGlobalLogger().WithField("component", "session_rediscache"),
	}, nil
}

func (r *RedisCacheStore) key(sessionID string) string {
	return fmt.Sprintf("mfcsync:session:%s", sessionID)
}

func (r *RedisCacheStore) Get(sessionID string) (*CacheEntry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Warn("redis entry unmarshal failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	return &entry, true
}

func (r *RedisCacheStore) Set(sessionID string, entry *CacheEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("redis entry marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", map[string]interface{}{"error": err.Error()})
	}
}

func (r *RedisCacheStore) Delete(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.client.Del(ctx, r.key(sessionID)).Err()
}

// Len always reports 0: Redis TTL eviction already bounds growth, so the
// Manager's cap-based EvictOldest is a no-op here.
func (r *RedisCacheStore) Len() int { return 0 }

// EvictOldest is a no-op: Redis's own TTL expiry handles growth.
func (r *RedisCacheStore) EvictOldest(keepUnder int) {}

// Close releases the underlying Redis connection.
func (r *RedisCacheStore) Close() error {
	return r.client.Close()
}
