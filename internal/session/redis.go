package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

// RedisStore keeps results as JSON in Redis with a TTL, so any replica can
// serve the restore call.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to cfg.RedisURL and verifies the connection.
func NewRedisStore(cfg config.SessionConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	store := &RedisStore{
		client: redis.NewClient(opts),
		prefix: cfg.KeyPrefix,
		ttl:    ttlOrDefault(cfg.TTL),
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Session store initialized",
		zap.String("backend", "redis"),
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("ttl", store.ttl),
	)
	return store, nil
}

func (s *RedisStore) key(id string) string {
	if s.prefix == "" {
		return "session:" + id
	}
	return s.prefix + ":session:" + id
}

// Save stores res under its session ID.
func (s *RedisStore) Save(ctx context.Context, res *privacy.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(res.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load returns the result for id or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, id string) (*privacy.Result, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var res privacy.Result
	if err := json.Unmarshal(data, &res); err != nil {
		// Drop the corrupted entry so the next caller gets a clean miss
		s.client.Del(ctx, s.key(id))
		s.logger.Error("Failed to decode session", zap.String("session_id", id), zap.Error(err))
		return nil, ErrNotFound
	}
	return &res, nil
}

// Delete removes id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// maskRedisURL masks the password of a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || colon == strings.Index(userPart, "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
