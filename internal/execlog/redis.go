package execlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store backed by Redis lists, one list per execution
// id. It is the bounded/persistent swap-in the Store interface exists for.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration for the log store.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Prefix for all keys (default: "execlog")
	Prefix string

	// TTL for log entries per execution (0 = no expiry)
	TTL time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:    "redis://localhost:6379/0",
		Prefix: "execlog",
		TTL:    7 * 24 * time.Hour,
	}
}

// NewRedisStore creates a Redis-backed log store and verifies connectivity.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "execlog"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) key(executionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, executionID)
}

func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key(e.ExecutionID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(e.ExecutionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, executionID string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance
var _ Store = (*RedisStore)(nil)
