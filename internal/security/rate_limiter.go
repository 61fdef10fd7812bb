package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/case-sentinel/internal/config"
)

// RateLimiter enforces a per-client token bucket using golang.org/x/time/rate
type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client is allowed
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.config.Enabled {
		return true
	}
	now := r.now()
	return r.getLimiter(clientID, now).AllowN(now, 1)
}

// Tokens returns the tokens currently available to a client. Unknown
// clients have a full bucket.
func (r *RateLimiter) Tokens(clientID string) float64 {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return float64(r.config.Burst)
	}
	return c.limiter.TokensAt(r.now())
}

func (r *RateLimiter) getLimiter(clientID string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst),
		}
		r.clients[clientID] = c
	}
	c.lastSeen = now
	return c.limiter
}

// CleanupIdle removes clients not seen for longer than idle and returns how
// many were removed
func (r *RateLimiter) CleanupIdle(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops idle clients until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	interval := r.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupIdle(2 * interval)
			}
		}
	}()
}
