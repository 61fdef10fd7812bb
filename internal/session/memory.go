package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

type memoryEntry struct {
	result    *privacy.Result
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are dropped on read
// and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(ttl time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttlOrDefault(ttl),
		logger:  logger,
		now:     time.Now,
	}
}

// Save stores res under its session ID.
func (m *MemoryStore) Save(_ context.Context, res *privacy.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[res.SessionID] = memoryEntry{result: res, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Load returns the result for id or ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, id string) (*privacy.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	return e.result, nil
}

// Delete removes id. Unknown IDs are not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("Expired sessions swept", zap.Int("removed", n))
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close releases the entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
