package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raaihank/case-sentinel/internal/config"
)

func newTestLimiter(enabled bool) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: enabled, RequestsPerSecond: 1, Burst: 2})
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl, now := newTestLimiter(true)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "clients have separate buckets")

	*now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, _ := newTestLimiter(false)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestRateLimiterTokensAndCleanup(t *testing.T) {
	rl, now := newTestLimiter(true)
	assert.Equal(t, 2.0, rl.Tokens("new"))

	rl.Allow("a")
	assert.InDelta(t, 1.0, rl.Tokens("a"), 1e-9)

	*now = now.Add(10 * time.Minute)
	rl.Allow("b")
	assert.Equal(t, 1, rl.CleanupIdle(5*time.Minute))
	assert.Equal(t, 2.0, rl.Tokens("a"), "removed client starts fresh")
}
