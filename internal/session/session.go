// Package session keeps the mappings of an anonymization result between the
// anonymize call and the matching restore call of one AI round trip.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store holds anonymization results by session ID.
type Store interface {
	Save(ctx context.Context, res *privacy.Result) error
	Load(ctx context.Context, id string) (*privacy.Result, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// New creates the store selected by cfg.Backend.
func New(cfg config.SessionConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL, logger), nil
	case "redis":
		return NewRedisStore(cfg, logger)
	}
	return nil, fmt.Errorf("unknown session backend: %s", cfg.Backend)
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 30 * time.Minute
	}
	return ttl
}
